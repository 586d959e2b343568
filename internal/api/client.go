// Package api is the request/response client for the dashboard backend. It
// attaches the session token as a bearer credential and maps non-2xx answers
// to coded errors carrying the server's message.
package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/session"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusError is attached to ErrUnexpectedStatus errors.
type StatusError struct {
	Code    int
	Reason  string // machine-readable code from the body, if any
	Message string
}

type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  session.TokenProvider
	log     logger.Logger
	cfg     Config
	maxBody int64
}

func NewClient(cfg Config, tokens session.TokenProvider, log logger.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = session.Static("")
	}
	if log == nil {
		log = logger.Default()
	}

	base, _ := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		log:     log.With("api"),
		cfg:     cfg,
		maxBody: maxBody,
	}, nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, out)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	errFactory := errors.New()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errFactory.Wrap(ErrEncode, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return errFactory.Wrap(ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok, ok := c.tokens.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case ctx.Err() == context.Canceled:
			return errFactory.Wrap(ErrCanceled, err)
		case ctx.Err() == context.DeadlineExceeded:
			return errFactory.Wrap(ErrTimeout, err)
		}
		return errFactory.Wrap(ErrRequest, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return errFactory.Wrap(ErrRequest, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Int("bytes", len(payload)).
		Msg("API request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, payload)
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errFactory.Wrap(ErrDecode, err)
	}

	return nil
}

func statusError(code int, payload []byte) error {
	se := StatusError{Code: code}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &body) == nil {
		se.Reason = body.Code
		se.Message = body.Message
		if se.Message == "" {
			se.Message = body.Error
		}
	}
	if se.Message == "" {
		se.Message = http.StatusText(code)
	}

	e := errors.New().WithData(ErrUnexpectedStatus, se).WithMessage(se.Message)
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return errors.New().Wrap(ErrUnauthorized, e)
	}
	return e
}

// Message returns the server-provided message of a status error, or the
// error text otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ae, ok := e.(errors.Error); ok {
			if se, ok := ae.GetData().(StatusError); ok {
				return se.Message
			}
		}
	}
	return err.Error()
}

// Status returns the HTTP status code of a status error, or 0.
func Status(err error) int {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ae, ok := e.(errors.Error); ok {
			if se, ok := ae.GetData().(StatusError); ok {
				return se.Code
			}
		}
	}
	return 0
}
