package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Post is the payload delivered to a platform endpoint.
type Post struct {
	Platform     string   `json:"platform"`
	AccountID    string   `json:"account_id,omitempty"`
	Text         string   `json:"text"`
	Hashtags     []string `json:"hashtags"`
	FirstComment string   `json:"first_comment,omitempty"`
	MediaURL     string   `json:"media_url,omitempty"`
}

type Result struct {
	PostID  string `json:"post_id"`
	PostURL string `json:"post_url"`
}

// Credential is the endpoint and token a platform is published with.
type Credential struct {
	Platform    string
	Endpoint    string
	AccessToken string
	AccountID   string
}

type Publisher interface {
	Publish(ctx context.Context, cred Credential, post Post) (*Result, error)
}

// HTTPPublisher POSTs the post as JSON to the credential endpoint with Bearer auth.
type HTTPPublisher struct {
	client *http.Client
	log    *slog.Logger
}

func NewHTTPPublisher(timeout time.Duration, log *slog.Logger) *HTTPPublisher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPPublisher{
		client: &http.Client{Timeout: timeout},
		log:    log.With(slog.String("component", "social.publisher")),
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, cred Credential, post Post) (*Result, error) {
	body, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("marshal post: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if cred.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("publish to %s: %w", cred.Platform, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		p.log.Error("publish rejected", "platform", cred.Platform, "status", resp.StatusCode, "body", string(raw))
		return nil, fmt.Errorf("publish to %s: status %d", cred.Platform, resp.StatusCode)
	}
	var res Result
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", cred.Platform, err)
		}
	}
	return &res, nil
}
