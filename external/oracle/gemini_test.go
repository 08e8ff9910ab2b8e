package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxseedlab/mensetsu/internal/oracle"
)

type geminiRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

func newGeminiServer(t *testing.T, status int, body string, got *geminiRequest, path *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*path = r.URL.Path
		if r.Header.Get("x-goog-api-key") != "gem-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeminiOracle_ParsesVerdict(t *testing.T) {
	var got geminiRequest
	var path string
	srv := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"COMPLETE"}]}}]}`, &got, &path)

	o, err := NewGeminiOracle(context.Background(), GeminiConfig{APIKey: "gem-key", Model: "gemini-test", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewGeminiOracle: %v", err)
	}
	v, err := o.CheckCompletion(context.Background(), oracle.Request{Question: "What is a map?", FullAnswer: "A hash table keyed by comparable values."})
	if err != nil {
		t.Fatalf("CheckCompletion: %v", err)
	}
	if v != oracle.VerdictComplete {
		t.Fatalf("expected complete, got %v", v)
	}
	if !strings.HasSuffix(path, "models/gemini-test:generateContent") {
		t.Fatalf("unexpected path %s", path)
	}
	if len(got.Contents) != 1 || len(got.Contents[0].Parts) != 1 || !strings.Contains(got.Contents[0].Parts[0].Text, "What is a map?") {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if got.GenerationConfig.MaxOutputTokens != geminiMaxOutputTokens {
		t.Fatalf("max output tokens = %d", got.GenerationConfig.MaxOutputTokens)
	}
}

func TestGeminiOracle_WaitReply(t *testing.T) {
	var got geminiRequest
	var path string
	srv := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"WAIT"}]}}]}`, &got, &path)

	o, err := NewGeminiOracle(context.Background(), GeminiConfig{APIKey: "gem-key", Model: "gemini-test", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewGeminiOracle: %v", err)
	}
	v, err := o.CheckCompletion(context.Background(), oracle.Request{Question: "q", FullAnswer: "so the", Interim: "and um"})
	if err != nil {
		t.Fatalf("CheckCompletion: %v", err)
	}
	if v != oracle.VerdictIncomplete {
		t.Fatalf("expected incomplete, got %v", v)
	}
}

func TestGeminiOracle_ErrorResponse(t *testing.T) {
	var got geminiRequest
	var path string
	srv := newGeminiServer(t, http.StatusBadRequest,
		`{"error":{"code":400,"message":"bad model","status":"INVALID_ARGUMENT"}}`, &got, &path)

	o, err := NewGeminiOracle(context.Background(), GeminiConfig{APIKey: "gem-key", Model: "gemini-test", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewGeminiOracle: %v", err)
	}
	v, err := o.CheckCompletion(context.Background(), oracle.Request{Question: "q"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if v != oracle.VerdictIncomplete {
		t.Fatalf("expected incomplete on error, got %v", v)
	}
}
