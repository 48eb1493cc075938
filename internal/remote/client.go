// Package remote is the client of the revisioned task list API.
//
// Reads (FetchAll, Get) are retried on server and transport failures with
// exponential backoff. Writes (Create, Update, Delete, SyncBatch) are sent
// exactly once: the server revision may advance between attempts, so a
// write failure is reported to the caller, who decides how to reconcile.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/Mschirtzinger/tasksync/internal/revision"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

// RevisionHeader carries the last known revision on conditional requests.
const RevisionHeader = "X-Last-Known-Revision"

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root; "/list" is appended.
	BaseURL string

	// Token is the pre-provisioned bearer token.
	Token string

	// Timeout bounds a single HTTP attempt (default: 30s).
	Timeout time.Duration

	// Retry configures read retries (default: DefaultRetryPolicy).
	Retry *RetryPolicy

	// Transport is the base round tripper (default: http.DefaultTransport).
	Transport http.RoundTripper

	// NewTimer overrides the retry timer, for tests.
	NewTimer func() backoff.Timer

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// Snapshot is a full list together with the revision it belongs to.
type Snapshot struct {
	Items    []task.Item
	Revision int64
}

// Client talks to the list API.
type Client struct {
	base     *url.URL
	http     *http.Client
	tracker  revision.Tracker
	retry    RetryPolicy
	newTimer func() backoff.Timer
	logger   *log.Logger
}

// New creates a client. tracker supplies the revision header and receives
// the revision of every successful single item call and full fetch.
func New(cfg Config, tracker revision.Tracker) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if tracker == nil {
		return nil, fmt.Errorf("revision tracker cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	policy := DefaultRetryPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
				Base:   transport,
			},
		},
		tracker:  tracker,
		retry:    policy,
		newTimer: cfg.NewTimer,
		logger:   cfg.Logger,
	}, nil
}

type listResponse struct {
	Status   string      `json:"status"`
	List     []task.Item `json:"list"`
	Revision int64       `json:"revision"`
}

type elementResponse struct {
	Status   string    `json:"status"`
	Element  task.Item `json:"element"`
	Revision int64     `json:"revision"`
}

type listRequest struct {
	List []task.Item `json:"list"`
}

type elementRequest struct {
	Element task.Item `json:"element"`
}

// FetchAll returns the full remote list, retrying transient failures. On
// success the tracker is set to the server revision.
func (c *Client) FetchAll(ctx context.Context) (Snapshot, error) {
	var resp listResponse
	err := c.withRetry(ctx, "GET /list", func() error {
		resp = listResponse{}
		return c.do(ctx, http.MethodGet, "/list", false, nil, &resp)
	})
	if err != nil {
		return Snapshot{}, err
	}
	c.tracker.Set(resp.Revision)
	c.logger.Printf("Fetched %d items at revision %d", len(resp.List), resp.Revision)
	return Snapshot{Items: nonNil(resp.List), Revision: resp.Revision}, nil
}

// Get returns one remote item, retrying transient failures.
func (c *Client) Get(ctx context.Context, id string) (task.Item, error) {
	var resp elementResponse
	op := "GET /list/" + id
	err := c.withRetry(ctx, op, func() error {
		resp = elementResponse{}
		return c.do(ctx, http.MethodGet, itemPath(id), true, nil, &resp)
	})
	if err != nil {
		return task.Item{}, err
	}
	c.tracker.Set(resp.Revision)
	return resp.Element, nil
}

// Create adds it on the server and returns the server's copy.
func (c *Client) Create(ctx context.Context, it task.Item) (task.Item, error) {
	return c.element(ctx, http.MethodPost, "/list", it)
}

// Update replaces the server copy of it.
func (c *Client) Update(ctx context.Context, it task.Item) (task.Item, error) {
	return c.element(ctx, http.MethodPut, itemPath(it.ID), it)
}

// Delete removes it on the server and returns the removed copy.
func (c *Client) Delete(ctx context.Context, it task.Item) (task.Item, error) {
	return c.element(ctx, http.MethodDelete, itemPath(it.ID), it)
}

// SyncBatch sends the full local list for a server-side merge and returns
// the merged list. The tracker is not touched; the caller owns the sweep.
func (c *Client) SyncBatch(ctx context.Context, items []task.Item) (Snapshot, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodPatch, "/list", true, listRequest{List: nonNil(items)}, &resp); err != nil {
		return Snapshot{}, err
	}
	c.logger.Printf("Merged %d items, server now at revision %d", len(resp.List), resp.Revision)
	return Snapshot{Items: nonNil(resp.List), Revision: resp.Revision}, nil
}

func (c *Client) element(ctx context.Context, method, path string, it task.Item) (task.Item, error) {
	var resp elementResponse
	if err := c.do(ctx, method, path, true, elementRequest{Element: it}, &resp); err != nil {
		return task.Item{}, err
	}
	c.tracker.Set(resp.Revision)
	return resp.Element, nil
}

// withRetry runs op under the read retry policy. Only server errors are
// retried; anything else stops immediately.
func (c *Client) withRetry(ctx context.Context, name string, op func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		c.logger.Printf("%s attempt %d failed, retrying in %v: %v", name, attempt, d.Round(time.Millisecond), err)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, c.retry.newBackOff(ctx), notify, timer)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && KindOf(err) == KindUnknown {
		return &Error{Kind: KindServerError, Op: name, Err: ctxErr}
	}
	return err
}

// do performs one HTTP exchange and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, withRevision bool, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindBadRequest, Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return &Error{Kind: KindBadRequest, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withRevision {
		req.Header.Set(RevisionHeader, strconv.FormatInt(c.tracker.Get(), 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindServerError, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(excerpt)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return &Error{Kind: KindServerError, Op: op, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func itemPath(id string) string {
	return "/list/" + url.PathEscape(id)
}

func nonNil(items []task.Item) []task.Item {
	if items == nil {
		return []task.Item{}
	}
	return items
}
