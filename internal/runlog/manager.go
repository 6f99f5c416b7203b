// Package runlog stores the console of each build: command output and
// the notifier's lines, capped per build and cleaned up by age and size.
package runlog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const consoleSuffix = ".console.log"

const truncatedNotice = "\n[console truncated]\n"

// Manager handles persistent per-build console files and retention.
type Manager struct {
	baseDir       string
	maxBytes      int64
	retentionDays int
	maxTotalBytes int64
}

// NewManager creates a new console log manager.
func NewManager(baseDir string, maxBytes int64, retentionDays int, maxTotalBytes int64) *Manager {
	return &Manager{
		baseDir:       baseDir,
		maxBytes:      maxBytes,
		retentionDays: retentionDays,
		maxTotalBytes: maxTotalBytes,
	}
}

// BaseDir returns the base log directory.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Path returns the console file path for a build.
func (m *Manager) Path(jobName, buildID string) string {
	return filepath.Join(m.baseDir, sanitizeSegment(jobName), sanitizeSegment(buildID)+consoleSuffix)
}

// OpenConsole creates the console file for a build.
func (m *Manager) OpenConsole(jobName, buildID string) (*Console, error) {
	path := m.Path(jobName, buildID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create console dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create console file")
	}
	return &Console{file: f, maxBytes: m.maxBytes, path: path}, nil
}

// ReadConsole returns the persisted console of a build. A build without a
// console file yields an error matching os.ErrNotExist.
func (m *Manager) ReadConsole(jobName, buildID string) (string, error) {
	data, err := os.ReadFile(m.Path(jobName, buildID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Cleanup removes old consoles and enforces a maximum total size.
func (m *Manager) Cleanup() error {
	cutoff := time.Now().AddDate(0, 0, -m.retentionDays)

	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileInfo

	err := filepath.WalkDir(m.baseDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, consoleSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if m.retentionDays > 0 && info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
			return nil
		}
		files = append(files, fileInfo{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, "walk consoles")
	}

	if m.maxTotalBytes <= 0 {
		return nil
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= m.maxTotalBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	for _, f := range files {
		if total <= m.maxTotalBytes {
			break
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			continue
		}
		total -= f.size
	}
	return nil
}

// Console is the capped console writer for one build. It is safe for
// concurrent use; bytes past the cap are discarded.
type Console struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	maxBytes  int64
	written   int64
	truncated bool
}

// Write stores as much as allowed while reporting success, so a full disk
// or a full console never fails the build.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.truncated {
		return len(p), nil
	}
	toWrite := p
	if c.maxBytes > 0 {
		remaining := c.maxBytes - c.written
		if int64(len(p)) > remaining {
			toWrite = p[:remaining]
			c.truncated = true
		}
	}

	n, err := c.file.Write(toWrite)
	c.written += int64(n)
	if err != nil {
		logrus.Warnf("[runlog] write %s: %v", c.path, err)
	}
	if c.truncated {
		_, _ = c.file.WriteString(truncatedNotice)
	}
	return len(p), nil
}

// Close closes the underlying file.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// Path is the file backing the console.
func (c *Console) Path() string { return c.path }

// WrittenBytes returns the number of output bytes persisted.
func (c *Console) WrittenBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Truncated reports whether output exceeded the cap.
func (c *Console) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

func sanitizeSegment(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, ch := range value {
		isLower := ch >= 'a' && ch <= 'z'
		isUpper := ch >= 'A' && ch <= 'Z'
		isDigit := ch >= '0' && ch <= '9'
		if isLower || isUpper || isDigit || ch == '-' || ch == '_' || ch == '.' {
			b.WriteRune(ch)
			continue
		}
		b.WriteByte('_')
	}
	result := strings.Trim(b.String(), "._")
	if result == "" {
		return "unknown"
	}
	return result
}
