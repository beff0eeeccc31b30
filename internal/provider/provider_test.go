package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/picly/internal/models"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestDalleSize(t *testing.T) {
	tests := []struct {
		w, h int
		want string
	}{
		{1024, 1024, "1024x1024"},
		{1920, 1080, "1792x1024"},
		{768, 1344, "1024x1792"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dalleSize(tt.w, tt.h))
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, dalleImagesPath, r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body := decodeBody(t, r)
		assert.Equal(t, "dall-e-3", body["model"])
		assert.Equal(t, "1792x1024", body["size"])
		assert.Equal(t, "hd", body["quality"])
		_, _ = io.WriteString(w, `{"data":[{"url":"https://img.example/1.png","revised_prompt":"a cat, detailed"}]}`)
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", srv.URL, time.Second, nil)
	img, err := o.Generate(context.Background(), Request{Prompt: "a cat", Width: 1792, Height: 1024, QualityBoost: true})
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", img.URL)
	assert.Equal(t, "a cat, detailed", img.RevisedPrompt)
	assert.Equal(t, dalleHDCost, o.CostFor(Request{QualityBoost: true}))
	assert.Equal(t, dalleStdCost, o.CostFor(Request{}))
	assert.Equal(t, models.TierPremium, o.Tier())
}

func TestOpenAIEditUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, dalleEditPath, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "add a hat", r.FormValue("prompt"))
		assert.Equal(t, "1024x1024", r.FormValue("size"))
		f, _, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("png-bytes"), data)
		_, _ = io.WriteString(w, `{"data":[{"url":"https://img.example/edit.png"}]}`)
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", srv.URL, time.Second, nil)
	img, err := o.Edit(context.Background(), []byte("png-bytes"), "add a hat", true)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/edit.png", img.URL)
}

func TestStabilityGenerateDecodesArtifact(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sdxlTextPath, r.URL.Path)
		body := decodeBody(t, r)
		assert.EqualValues(t, 50, body["steps"])
		assert.EqualValues(t, 8, body["cfg_scale"])
		assert.Equal(t, sdxlSampler, body["sampler"])
		prompts := body["text_prompts"].([]any)
		require.Len(t, prompts, 2)
		assert.EqualValues(t, -1, prompts[1].(map[string]any)["weight"])
		_, _ = io.WriteString(w, `{"artifacts":[{"base64":"`+payload+`"}]}`)
	}))
	defer srv.Close()

	s := NewStability("key", srv.URL, time.Second, nil)
	img, err := s.Generate(context.Background(), Request{Prompt: "forest", NegativePrompt: "blurry", QualityBoost: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-png"), img.Bytes)
	assert.Equal(t, "image/png", img.Mime)
}

func TestReplicateRetriesRateLimitAndPolls(t *testing.T) {
	var creates, polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token r8-test", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
			if creates.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			body := decodeBody(t, r)
			assert.Equal(t, fluxSchnell, body["version"])
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"p1","status":"starting"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
			if polls.Add(1) < 3 {
				_, _ = io.WriteString(w, `{"id":"p1","status":"processing"}`)
				return
			}
			_, _ = io.WriteString(w, `{"id":"p1","status":"succeeded","output":["https://replicate.example/out.png"]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	rep := NewReplicate("r8-test", srv.URL, time.Second, nil)
	rep.pollInterval = time.Millisecond
	rep.retry = backoff{attempts: 5, base: time.Millisecond}

	img, err := rep.Generate(context.Background(), Request{Prompt: "city"})
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.example/out.png", img.URL)
	assert.EqualValues(t, 2, creates.Load())
	assert.EqualValues(t, 3, polls.Load())
}

func TestReplicateFailedPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"id":"p2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"p2","status":"failed","error":"nsfw"}`)
	}))
	defer srv.Close()

	rep := NewReplicate("tok", srv.URL, time.Second, nil)
	rep.pollInterval = time.Millisecond
	_, err := rep.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nsfw")
}

func TestReplicateGivesUpAfterMaxPolls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p3","status":"processing"}`)
	}))
	defer srv.Close()

	rep := NewReplicate("tok", srv.URL, time.Second, nil)
	rep.pollInterval = time.Millisecond
	rep.maxPolls = 3
	_, err := rep.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout after 3 attempts")
}

func TestHuggingFaceRetriesModelLoading(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/"+defaultHFModel, r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"Model is currently loading"}`)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("raw-image"))
	}))
	defer srv.Close()

	hf := NewHuggingFace("hf", srv.URL, "", time.Second, nil)
	hf.retry = backoff{attempts: 3, base: time.Millisecond}
	img, err := hf.Generate(context.Background(), Request{Prompt: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-image"), img.Bytes)
	assert.Equal(t, 0.0, hf.CostFor(Request{}))
}

func TestRunwayRequiresSourceImage(t *testing.T) {
	r := NewRunway("key", "http://127.0.0.1:1", time.Second, nil)
	_, err := r.Generate(context.Background(), Request{Prompt: "waves"})
	assert.ErrorIs(t, err, ErrSourceImageRequired)
}

func TestRunwayPollsTask(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, runwayAPIVersion, r.Header.Get("X-Runway-Version"))
		if r.Method == http.MethodPost {
			body := decodeBody(t, r)
			assert.Equal(t, "https://img.example/frame.png", body["promptImage"])
			_, _ = io.WriteString(w, `{"id":"task-1"}`)
			return
		}
		if polls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"id":"task-1","status":"RUNNING"}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"task-1","status":"SUCCEEDED","output":["https://runway.example/clip.mp4"]}`)
	}))
	defer srv.Close()

	r := NewRunway("key", srv.URL, time.Second, nil)
	r.pollInterval = time.Millisecond
	img, err := r.Generate(context.Background(), Request{Prompt: "waves", ImageURL: "https://img.example/frame.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://runway.example/clip.mp4", img.URL)
	assert.Equal(t, "video/mp4", img.Mime)
}

func TestErrorTemporary(t *testing.T) {
	assert.True(t, (&Error{StatusCode: http.StatusTooManyRequests}).Temporary())
	assert.True(t, (&Error{StatusCode: http.StatusServiceUnavailable}).Temporary())
	assert.False(t, (&Error{StatusCode: http.StatusBadRequest}).Temporary())
}

func TestBackoffStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := backoff{attempts: 5, base: time.Millisecond}.do(context.Background(), func() error {
		calls++
		return &Error{Provider: "x", StatusCode: http.StatusBadRequest}
	})
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, calls)
}

func TestRegistryKeepsOrder(t *testing.T) {
	reg := NewRegistry(
		NewHuggingFace("", "", "", 0, nil),
		NewReplicate("", "", 0, nil),
		NewOpenAI("", "", 0, nil),
	)
	names := []string{}
	for _, e := range reg.All() {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{EngineHuggingFace, EngineReplicate, EngineDalle}, names)

	_, ok := reg.Get(EngineRunway)
	assert.False(t, ok)
}
