// Package harvest pulls popular community prompts from public image galleries.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	SourceCivitai = "civitai"
	SourceLexica  = "lexica"
	SourceReddit  = "reddit"

	userAgent       = "Picly Learning Bot 1.0"
	minPromptLength = 20
)

// Item is one harvested prompt with its engagement score.
type Item struct {
	Source     string
	SourceRef  string
	Prompt     string
	Engagement float64
	ImageURL   string
	Metadata   json.RawMessage
}

type Source interface {
	Name() string
	Harvest(ctx context.Context) ([]Item, error)
}

type fetcher struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func newFetcher(name, baseURL string, timeout time.Duration, log *slog.Logger) fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With(slog.String("component", "harvest."+name)),
	}
}

func (f fetcher) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := f.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Civitai reads the most reacted images; engagement is reactions*2 + comments.
type Civitai struct {
	f fetcher
}

func NewCivitai(baseURL string, timeout time.Duration, log *slog.Logger) *Civitai {
	return &Civitai{f: newFetcher(SourceCivitai, baseURL, timeout, log)}
}

func (c *Civitai) Name() string { return SourceCivitai }

func (c *Civitai) Harvest(ctx context.Context) ([]Item, error) {
	var body struct {
		Items []struct {
			URL   string          `json:"url"`
			Meta  json.RawMessage `json:"meta"`
			Stats struct {
				Reactions int `json:"reactions"`
				Comments  int `json:"comments"`
			} `json:"stats"`
		} `json:"items"`
	}
	q := url.Values{"limit": {"100"}, "sort": {"Most Reactions"}, "nsfw": {"false"}}
	if err := c.f.getJSON(ctx, "/api/v1/images", q, &body); err != nil {
		return nil, err
	}

	var out []Item
	for _, it := range body.Items {
		var meta struct {
			Prompt string `json:"prompt"`
		}
		if len(it.Meta) == 0 || json.Unmarshal(it.Meta, &meta) != nil || strings.TrimSpace(meta.Prompt) == "" {
			continue
		}
		out = append(out, Item{
			Source:     SourceCivitai,
			SourceRef:  it.URL,
			Prompt:     strings.TrimSpace(meta.Prompt),
			Engagement: float64(it.Stats.Reactions*2 + it.Stats.Comments),
			ImageURL:   it.URL,
			Metadata:   it.Meta,
		})
	}
	c.f.log.Info("harvested prompts", "count", len(out))
	return out, nil
}

// Lexica searches the prompt library; engagement is the like count.
type Lexica struct {
	f     fetcher
	query string
}

func NewLexica(baseURL string, timeout time.Duration, log *slog.Logger) *Lexica {
	return &Lexica{f: newFetcher(SourceLexica, baseURL, timeout, log), query: "high quality"}
}

func (l *Lexica) Name() string { return SourceLexica }

func (l *Lexica) Harvest(ctx context.Context) ([]Item, error) {
	var body struct {
		Images []struct {
			ID     string `json:"id"`
			Prompt string `json:"prompt"`
			Src    string `json:"src"`
			Likes  int    `json:"likes"`
		} `json:"images"`
	}
	q := url.Values{"q": {l.query}, "limit": {"100"}}
	if err := l.f.getJSON(ctx, "/api/v1/search", q, &body); err != nil {
		return nil, err
	}

	var out []Item
	for _, img := range body.Images {
		prompt := strings.TrimSpace(img.Prompt)
		if prompt == "" {
			continue
		}
		out = append(out, Item{
			Source:     SourceLexica,
			SourceRef:  img.ID,
			Prompt:     prompt,
			Engagement: float64(img.Likes),
			ImageURL:   img.Src,
		})
	}
	l.f.log.Info("harvested prompts", "count", len(out))
	return out, nil
}

// Reddit scans the week's top r/StableDiffusion posts for prompts quoted in the text.
type Reddit struct {
	f fetcher
}

func NewReddit(baseURL string, timeout time.Duration, log *slog.Logger) *Reddit {
	return &Reddit{f: newFetcher(SourceReddit, baseURL, timeout, log)}
}

func (r *Reddit) Name() string { return SourceReddit }

func (r *Reddit) Harvest(ctx context.Context) ([]Item, error) {
	var body struct {
		Data struct {
			Children []struct {
				Data struct {
					Title     string `json:"title"`
					Selftext  string `json:"selftext"`
					Permalink string `json:"permalink"`
					Ups       int    `json:"ups"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	q := url.Values{"limit": {"50"}, "t": {"week"}}
	if err := r.f.getJSON(ctx, "/r/StableDiffusion/top.json", q, &body); err != nil {
		return nil, err
	}

	var out []Item
	for _, child := range body.Data.Children {
		post := child.Data
		for _, prompt := range ExtractPrompts(post.Title + " " + post.Selftext) {
			out = append(out, Item{
				Source:     SourceReddit,
				SourceRef:  "https://reddit.com" + post.Permalink,
				Prompt:     prompt,
				Engagement: float64(post.Ups),
			})
		}
	}
	r.f.log.Info("harvested prompts", "count", len(out))
	return out, nil
}

var (
	quotedRe = regexp.MustCompile(`"([^"]+)"`)
	prefixRe = regexp.MustCompile(`[Pp]rompt:\s*(.+?)(?:\n|$)`)
)

// ExtractPrompts finds quoted text and "Prompt:" lines of at least 20 characters.
func ExtractPrompts(text string) []string {
	var out []string
	for _, re := range []*regexp.Regexp{quotedRe, prefixRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if p := strings.TrimSpace(m[1]); len(p) >= minPromptLength {
				out = append(out, p)
			}
		}
	}
	return out
}
