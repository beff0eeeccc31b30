package harvest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPrompts(t *testing.T) {
	text := `Made this with "a lone samurai under cherry blossoms, cinematic" and "short one".
Prompt: portrait of an astronaut, 35mm, highly detailed
more text`
	got := ExtractPrompts(text)
	assert.Equal(t, []string{
		"a lone samurai under cherry blossoms, cinematic",
		"portrait of an astronaut, 35mm, highly detailed",
	}, got)
}

func TestCivitaiEngagement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/images", r.URL.Path)
		assert.Equal(t, "Most Reactions", r.URL.Query().Get("sort"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `{"items":[
			{"url":"https://civitai.example/1.png","meta":{"prompt":"castle on a hill, 8k","steps":30},"stats":{"reactions":12,"comments":3}},
			{"url":"https://civitai.example/2.png","meta":null,"stats":{"reactions":99}},
			{"url":"https://civitai.example/3.png","meta":{"seed":1},"stats":{"reactions":4}}
		]}`)
	}))
	defer srv.Close()

	items, err := NewCivitai(srv.URL, time.Second, nil).Harvest(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "castle on a hill, 8k", items[0].Prompt)
	assert.Equal(t, 27.0, items[0].Engagement)
	assert.JSONEq(t, `{"prompt":"castle on a hill, 8k","steps":30}`, string(items[0].Metadata))
}

func TestLexicaLikes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "high quality", r.URL.Query().Get("q"))
		_, _ = io.WriteString(w, `{"images":[{"id":"x1","prompt":"neon city rain","src":"https://lexica.example/x1.jpg","likes":42},{"id":"x2","prompt":""}]}`)
	}))
	defer srv.Close()

	items, err := NewLexica(srv.URL, time.Second, nil).Harvest(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 42.0, items[0].Engagement)
	assert.Equal(t, "x1", items[0].SourceRef)
}

func TestRedditUpvotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/StableDiffusion/top.json", r.URL.Path)
		assert.Equal(t, "week", r.URL.Query().Get("t"))
		_, _ = io.WriteString(w, `{"data":{"children":[{"data":{"title":"Look at this","selftext":"Prompt: a fox made of autumn leaves, studio lighting","permalink":"/r/x/1","ups":310}}]}}`)
	}))
	defer srv.Close()

	items, err := NewReddit(srv.URL, time.Second, nil).Harvest(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 310.0, items[0].Engagement)
	assert.Equal(t, "https://reddit.com/r/x/1", items[0].SourceRef)
}

func TestHarvestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewLexica(srv.URL, time.Second, nil).Harvest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
