package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// RecordDelivery appends a delivery to the history.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	rooms, err := nullJSON(d.Rooms, len(d.Rooms) == 0)
	if err != nil {
		return errors.Wrap(err, "encode rooms")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deliveries (
			id, job_name, build_name, build_url, action, trigger_type, outcome,
			rooms, message, detail, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.JobName,
		nullString(d.BuildName),
		nullString(d.BuildURL),
		d.Action,
		nullString(d.Trigger),
		d.Outcome,
		rooms,
		nullString(d.Message),
		nullString(d.Detail),
		d.DurationMs,
		formatTime(d.CreatedAt),
	)
	return errors.Wrap(err, "record delivery")
}

const selectDeliveryCols = `id, job_name, build_name, build_url, action, trigger_type,
	outcome, rooms, message, detail, duration_ms, created_at`

func scanDelivery(row scanner) (*Delivery, error) {
	var d Delivery
	var createdAt string
	var buildName, buildURL, trigger, rooms, message, detail sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&d.ID,
		&d.JobName,
		&buildName,
		&buildURL,
		&d.Action,
		&trigger,
		&d.Outcome,
		&rooms,
		&message,
		&detail,
		&durationMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	d.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if rooms.Valid {
		if err := json.Unmarshal([]byte(rooms.String), &d.Rooms); err != nil {
			return nil, errors.Wrap(err, "decode rooms")
		}
	}
	d.BuildName = buildName.String
	d.BuildURL = buildURL.String
	d.Trigger = trigger.String
	d.Message = message.String
	d.Detail = detail.String
	d.DurationMs = durationMs.Int64
	return &d, nil
}

// ListDeliveries returns deliveries matching opts, newest first.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, opts ListOpts) ([]*Delivery, error) {
	query, args := listQuery("SELECT "+selectDeliveryCols+" FROM deliveries", "created_at", opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list deliveries")
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeliveryCounts returns the number of deliveries per outcome.
func (s *SQLiteStore) DeliveryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM deliveries GROUP BY outcome`)
	if err != nil {
		return nil, errors.Wrap(err, "count deliveries")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
