package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashtagLimits(t *testing.T) {
	tags := Hashtags("Business Growth", "en", []string{Instagram, Twitter, LinkedIn, TikTok, Facebook, Pinterest, "myspace"})

	assert.Len(t, tags[Instagram], 10)
	assert.Len(t, tags[Twitter], 2)
	assert.Len(t, tags[TikTok], 5)
	assert.Len(t, tags[Facebook], 3)
	assert.Len(t, tags[Pinterest], 10)
	assert.Equal(t, []string{"#businessgrowth"}, tags[LinkedIn])
	assert.NotContains(t, tags, "myspace")
	assert.Equal(t, "#businessgrowth", tags[Twitter][0])
}

func TestHashtagsByLanguage(t *testing.T) {
	tags := Hashtags("cats", "fr", []string{Instagram})
	assert.Contains(t, tags[Instagram], "#tendance")
	assert.Len(t, tags[Instagram], 12)
}

func TestCaptionTemplates(t *testing.T) {
	assert.Contains(t, Caption("coffee", "es"), "¡Descubre la magia de coffee!")
	assert.Contains(t, Caption("coffee", "fr"), "Découvrez la magie de coffee!")
	assert.Contains(t, Caption("coffee", "de"), "Discover the magic of coffee!")
	assert.Equal(t, "en", NormalizeLanguage(" DE "))
}

func TestFormat(t *testing.T) {
	long := strings.Repeat("a", 400)
	tweet := Format(Twitter, long, []string{"#x", "#y"})
	assert.LessOrEqual(t, len([]rune(tweet)), 280)
	assert.True(t, strings.HasSuffix(tweet, "#x #y"))

	many := make([]string, 12)
	for i := range many {
		many[i] = "#t"
	}
	assert.Equal(t, "caption", Format(Instagram, "caption", many))
	assert.Equal(t, "caption\n\n#a", Format(Facebook, "caption", []string{"#a"}))
}

func TestDimensions(t *testing.T) {
	w, h := Dimensions([]string{Pinterest, Instagram})
	assert.Equal(t, [2]int{1080, 1080}, [2]int{w, h})
	w, h = Dimensions([]string{Pinterest})
	assert.Equal(t, [2]int{1000, 1500}, [2]int{w, h})
}

func TestHTTPPublisher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var post Post
		require.NoError(t, json.NewDecoder(r.Body).Decode(&post))
		assert.Equal(t, Twitter, post.Platform)
		assert.Equal(t, "hello", post.Text)
		_, _ = w.Write([]byte(`{"post_id":"tw_1","post_url":"https://x.example/1"}`))
	}))
	defer srv.Close()

	p := NewHTTPPublisher(time.Second, nil)
	res, err := p.Publish(context.Background(), Credential{Platform: Twitter, Endpoint: srv.URL, AccessToken: "tok"}, Post{Platform: Twitter, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "tw_1", res.PostID)
	assert.Equal(t, "https://x.example/1", res.PostURL)
}

func TestHTTPPublisherRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewHTTPPublisher(time.Second, nil).Publish(context.Background(), Credential{Platform: Facebook, Endpoint: srv.URL}, Post{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
