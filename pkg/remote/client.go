// Package remote is the HTTP client side of the draft API.  Client
// implements draft.Store against a draftd server, Beacon delivers teardown
// payloads without waiting, and Prober tracks whether the server is
// reachable.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strconv"

	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/pkg/errmodel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var _ draft.Store = (*Client)(nil)

// Client talks to a draftd server.  It keeps the session cookie set by
// Login for every later request.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     zerolog.Logger
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: u,
		http: &http.Client{
			Jar:       jar,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: zerolog.Nop(),
	}, nil
}

func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l.With().Str("component", "remote").Logger()
	return c
}

// BaseURL returns the server url.
func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) endpoint(p string, query url.Values) string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, p)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// errorFor maps an error response onto the draft error taxonomy.
func errorFor(op string, resp *http.Response) error {
	e := errmodel.Decode(resp.StatusCode, resp.Body)
	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, draft.ErrNotFound)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		ve := &draft.ValidationError{Message: e.Message}
		if f, ok := e.Context["field"].(string); ok {
			ve.Field = f
		}
		return ve
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, draft.ErrUnauthorized)
	case code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return draft.Transient(op, e)
	}
	return fmt.Errorf("%s: %w", op, e)
}

// do sends a request with an optional JSON body and decodes a JSON
// response into out.  Transport failures are transient.
func (c *Client) do(ctx context.Context, method, p string, query url.Values, body, out any) error {
	op := method + " " + p
	var rdr io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("%s: encoding body: %w", op, err)
		}
		rdr = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p, query), rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return draft.Transient(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		err := errorFor(op, resp)
		c.log.Debug().Err(err).Int("status", resp.StatusCode).Str("op", op).Msg("request failed")
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return draft.Transient(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// Login starts a session as user.
func (c *Client) Login(ctx context.Context, user, password string) error {
	creds := map[string]string{"username": user, "password": password}
	return c.do(ctx, http.MethodPost, "/login", nil, creds, nil)
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil, nil)
}

// Ping checks that the server is up.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Create upserts the caller's draft for linkedPost.  The server takes the
// owner from the session; ownerID is only checked for presence.
func (c *Client) Create(ctx context.Context, ownerID, linkedPost string, p draft.Payload) (*draft.Draft, error) {
	if len(ownerID) == 0 {
		return nil, draft.ErrUnauthorized
	}
	var d draft.Draft
	err := c.do(ctx, http.MethodPost, draft.BasePath+"/", nil, draft.CreateRequest{LinkedPost: linkedPost, Payload: p}, &d)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Update(ctx context.Context, id string, p draft.Payload) (*draft.Draft, error) {
	var d draft.Draft
	err := c.do(ctx, http.MethodPut, draft.BasePath+"/"+url.PathEscape(id), nil, draft.UpdateRequest{Payload: p}, &d)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Get(ctx context.Context, id string) (*draft.Draft, error) {
	var d draft.Draft
	if err := c.do(ctx, http.MethodGet, draft.BasePath+"/"+url.PathEscape(id), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, draft.BasePath+"/"+url.PathEscape(id), nil, nil, nil)
}

// List fetches every draft of the session's user, following pages.
func (c *Client) List(ctx context.Context, ownerID string) ([]*draft.Draft, error) {
	var out []*draft.Draft
	for page := 1; ; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}, "page_size": {"100"}}
		var resp draft.ListResponse
		if err := c.do(ctx, http.MethodGet, draft.BasePath+"/", q, nil, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Drafts {
			out = append(out, item.Draft)
		}
		if resp.Page == nil || !resp.Page.HasNext {
			return out, nil
		}
	}
}

// Find returns the draft for linkedPost, or nil if there is none.
func (c *Client) Find(ctx context.Context, ownerID, linkedPost string) (*draft.Draft, error) {
	var d draft.Draft
	err := c.do(ctx, http.MethodGet, draft.BasePath+"/check", url.Values{"post": {linkedPost}}, nil, &d)
	if errors.Is(err, draft.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Sync uploads several payloads at once.
func (c *Client) Sync(ctx context.Context, items []draft.SyncItem) (draft.SyncResult, error) {
	var res draft.SyncResult
	err := c.do(ctx, http.MethodPost, draft.BasePath+"/sync", nil, draft.SyncRequest{Drafts: items}, &res)
	return res, err
}

// Preview returns the rendered HTML of a draft.
func (c *Client) Preview(ctx context.Context, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(draft.BasePath+"/"+url.PathEscape(id)+"/preview", nil), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", draft.Transient("preview", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return "", errorFor("preview", resp)
	}
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}
