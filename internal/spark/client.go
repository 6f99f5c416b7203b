// Package spark is the HTTP client for Spark (Webex) conversations. It
// implements plugin.Deliverer for messages and machine account
// provisioning.
package spark

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/patrickspencer/buildbat/pkg/plugin"
)

const (
	DefaultIDBrokerURL     = "https://idbroker.webex.com/idb"
	DefaultConversationURL = "https://conv-a.wbx2.com/conversation/api/v1"

	maxResponseBytes = 1 << 20
	trackingPrefix   = "buildbat_"
)

// Config holds configuration for creating a Client.
type Config struct {
	IDBrokerURL     string
	ConversationURL string
	// Timeout bounds every HTTP request, including token exchanges.
	Timeout time.Duration
	// MaxParallel limits concurrent per-room requests. Zero means 4.
	MaxParallel int
	// HTTPClient is used for all requests. If nil, one is built with Timeout.
	HTTPClient *http.Client
}

// Client talks to the identity broker and the conversation service.
type Client struct {
	idbroker     string
	conversation string
	timeout      time.Duration
	maxParallel  int
	httpClient   *http.Client
	now          func() time.Time

	mu      sync.Mutex
	machine *machineSession
}

var _ plugin.Deliverer = (*Client)(nil)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.IDBrokerURL == "" {
		cfg.IDBrokerURL = DefaultIDBrokerURL
	}
	if cfg.ConversationURL == "" {
		cfg.ConversationURL = DefaultConversationURL
	}
	for _, raw := range []string{cfg.IDBrokerURL, cfg.ConversationURL} {
		if _, err := url.Parse(raw); err != nil {
			return nil, errors.Wrapf(err, "spark: invalid URL %q", raw)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		idbroker:     strings.TrimRight(cfg.IDBrokerURL, "/"),
		conversation: strings.TrimRight(cfg.ConversationURL, "/"),
		timeout:      cfg.Timeout,
		maxParallel:  cfg.MaxParallel,
		httpClient:   httpClient,
		now:          time.Now,
	}, nil
}

// Deliver performs req. It returns true only when every room succeeded.
func (c *Client) Deliver(ctx context.Context, req plugin.Request) (bool, error) {
	var err error
	switch req.Action {
	case plugin.ActionMessage:
		err = c.MessageRooms(ctx, req.Credentials, req.Rooms, req.Message)
	case plugin.ActionAddMachine:
		err = c.AddMachine(ctx, req.Credentials, req.Rooms, req.OAuthToken)
	default:
		err = errors.Errorf("spark: unknown action %q", req.Action)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MessageRooms posts message to each room as the machine account.
func (c *Client) MessageRooms(ctx context.Context, creds plugin.Credentials, rooms []string, message string) error {
	if len(rooms) == 0 {
		return errors.New("spark: no rooms")
	}
	tok, err := c.MachineToken(ctx, creds)
	if err != nil {
		return err
	}
	return c.eachRoom(rooms, func(room string) error {
		return c.postActivity(ctx, tok, messageActivity(c.conversation, room, message))
	})
}

// AddMachine adds the machine account to each room on behalf of the user
// who owns userToken.
func (c *Client) AddMachine(ctx context.Context, creds plugin.Credentials, rooms []string, userToken string) error {
	if len(rooms) == 0 {
		return errors.New("spark: no rooms")
	}
	machineTok, err := c.MachineToken(ctx, creds)
	if err != nil {
		return err
	}
	machineID, err := c.UserID(ctx, machineTok)
	if err != nil {
		return errors.Wrap(err, "spark: machine account id")
	}
	userTok := &oauth2.Token{AccessToken: userToken, TokenType: "Bearer"}
	userID, err := c.UserID(ctx, userTok)
	if err != nil {
		return errors.Wrap(err, "spark: user id")
	}
	return c.eachRoom(rooms, func(room string) error {
		return c.postActivity(ctx, userTok, addActivity(c.conversation, room, userID, machineID))
	})
}

// UserID returns the id of the account that owns tok.
func (c *Client) UserID(ctx context.Context, tok *oauth2.Token) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.conversation+"/users", tok, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Wrap(err, "decode user response")
	}
	if out.ID == "" {
		return "", errors.New("empty id in user response")
	}
	return out.ID, nil
}

// eachRoom runs fn for every room, at most maxParallel at a time. Every
// room is attempted; the first error is returned.
func (c *Client) eachRoom(rooms []string, fn func(room string) error) error {
	var g errgroup.Group
	g.SetLimit(c.maxParallel)
	for _, room := range rooms {
		room := room
		g.Go(func() error {
			if err := fn(room); err != nil {
				logrus.WithField("room", room).Warnf("[spark] room request failed: %v", err)
				return errors.Wrapf(err, "room %s", room)
			}
			logrus.WithField("room", room).Debug("[spark] room request ok")
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) postActivity(ctx context.Context, tok *oauth2.Token, activity any) error {
	body, err := c.doRequest(ctx, http.MethodPost, c.conversation+"/activities", tok, activity)
	if err != nil {
		return err
	}
	if apiErr := bodyError(http.StatusOK, body); apiErr != nil {
		return apiErr
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, requestURL string, tok *oauth2.Token, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != nil {
		tok.SetAuthHeader(req)
	}
	return c.send(req)
}

// send executes req with a fresh TrackingID and maps failures to *APIError.
func (c *Client) send(req *http.Request) ([]byte, error) {
	trackingID := trackingPrefix + uuid.NewString()
	req.Header.Set("TrackingID", trackingID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := bodyError(resp.StatusCode, body)
	if apiErr == nil {
		apiErr = &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	if apiErr.TrackingID == "" {
		apiErr.TrackingID = trackingID
	}
	return nil, apiErr
}
