package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

type httpClient struct {
	name       string
	baseURL    string
	auth       string
	httpClient *http.Client
	log        *slog.Logger
	headers    map[string]string
}

func newHTTPClient(name, baseURL, auth string, timeout time.Duration, log *slog.Logger) *httpClient {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &httpClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.With(slog.String("component", "provider."+name)),
	}
}

func (c *httpClient) endpoint(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

type response struct {
	Body   []byte
	Header http.Header
}

func (c *httpClient) do(ctx context.Context, method, path string, body io.Reader, contentType, accept string) (*response, error) {
	fullURL, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("provider request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(raw))
		return nil, &Error{Provider: c.name, StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return &response{Body: raw, Header: resp.Header}, nil
}

func (c *httpClient) decode(raw []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", c.name, err, truncateBody(raw))
	}
	return nil
}

func (c *httpClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", "application/json")
	if err != nil {
		return err
	}
	return c.decode(resp.Body, out)
}

func (c *httpClient) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "", "application/json")
	if err != nil {
		return err
	}
	return c.decode(resp.Body, out)
}

type formFile struct {
	Field    string
	Filename string
	Mime     string
	Data     []byte
}

func (c *httpClient) postMultipart(ctx context.Context, path string, fields map[string]string, files []formFile, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.Field, f.Filename))
		h.Set("Content-Type", f.Mime)
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("write part %s: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType(), "application/json")
	if err != nil {
		return err
	}
	return c.decode(resp.Body, out)
}

// backoff retries fn while it fails with a temporary provider error, doubling the delay each time.
type backoff struct {
	attempts int
	base     time.Duration
}

func (b backoff) do(ctx context.Context, fn func() error) error {
	attempts := b.attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := b.base
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var perr *Error
		if !errors.As(err, &perr) || !perr.Temporary() || attempt == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
