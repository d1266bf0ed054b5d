package textgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewGeneratorAutoFallsBackToMock(t *testing.T) {
	g, err := NewGenerator(Config{Mode: "auto"})
	require.NoError(t, err)

	text, err := g.Generate(context.Background(), "Hola\nsaluda al cliente")
	require.NoError(t, err)
	require.Equal(t, "(simulado) saluda al cliente", text)
}

func TestNewGeneratorRejectsUnknownMode(t *testing.T) {
	_, err := NewGenerator(Config{Mode: "carrier-pigeon"})
	require.Error(t, err)

	_, err = NewGenerator(Config{Mode: "http"})
	require.Error(t, err, "http mode without URL must fail")

	_, err = NewGenerator(Config{Mode: "openai"})
	require.Error(t, err, "openai mode without key must fail")
}

func TestNewGeneratorAutoPrefersOpenAIWithHTTPFallback(t *testing.T) {
	g, err := newAutoGenerator(Config{OpenAIAPIKey: "sk-test", HTTPURL: "http://example.test"})
	require.NoError(t, err)
	fb, ok := g.(*FallbackGenerator)
	require.True(t, ok, "expected fallback generator, got %T", g)
	require.IsType(t, &OpenAIGenerator{}, fb.primary)
	require.IsType(t, &HTTPGenerator{}, fb.fallback)
}

func TestHTTPGeneratorJSONAndPlainText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/plain") {
			_, _ = w.Write([]byte("  hola  "))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"Juan Perez"}`))
	}))
	defer ts.Close()

	text, err := NewHTTPGenerator(ts.URL+"/json", time.Second).Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "Juan Perez", text)

	text, err = NewHTTPGenerator(ts.URL+"/plain", time.Second).Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "hola", text)
}

func TestHTTPGeneratorReadsCompletionShapesAndRejectsEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch strings.TrimPrefix(r.URL.Path, "/") {
		case "choices-text":
			_, _ = w.Write([]byte(`{"choices":[{"text":" hola "}]}`))
		case "choices-message":
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"buenas"}}]}`))
		case "empty-text":
			_, _ = w.Write([]byte(`{"text":"   "}`))
		case "unknown-key":
			_, _ = w.Write([]byte(`{"result":"hola"}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	text, err := NewHTTPGenerator(ts.URL+"/choices-text", time.Second).Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "hola", text)

	text, err = NewHTTPGenerator(ts.URL+"/choices-message", time.Second).Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "buenas", text)

	for _, path := range []string{"/empty-text", "/unknown-key", "/no-body"} {
		text, err := NewHTTPGenerator(ts.URL+path, time.Second).Generate(context.Background(), "p")
		require.ErrorIs(t, err, ErrEmptyGeneration, path)
		require.ErrorIs(t, err, ErrTransient, path)
		require.Empty(t, text, path)
	}
}

func TestHTTPGeneratorClassifiesStatus(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":"content_policy"}`))
	}))
	defer ts.Close()

	g := NewHTTPGenerator(ts.URL, time.Second)
	_, err := g.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrTransient)

	status.Store(http.StatusBadRequest)
	_, err = g.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrContentPolicy)
}

func TestOpenAIGeneratorGenerate(t *testing.T) {
	bodies := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-3.5-turbo",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" hours_info "}}],` +
			`"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer ts.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: ts.URL + "/v1/", Timeout: time.Second})
	require.NoError(t, err)

	text, err := g.Generate(context.Background(), "clasifica esto")
	require.NoError(t, err)
	require.Equal(t, "hours_info", text)
	gotBody := <-bodies
	require.Contains(t, gotBody, "clasifica esto")
	require.Contains(t, gotBody, "gpt-3.5-turbo")
}

func TestOpenAIGeneratorErrorKinds(t *testing.T) {
	var filtered atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !filtered.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error","code":"internal"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-3.5-turbo",` +
			`"choices":[{"index":0,"finish_reason":"content_filter","message":{"role":"assistant","content":""}}]}`))
	}))
	defer ts.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: ts.URL + "/v1/", Timeout: time.Second})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrTransient)

	filtered.Store(true)
	_, err = g.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrContentPolicy)
}

func TestOpenAIGeneratorRejectsEmptyContent(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-3.5-turbo",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  "}}]}`))
	}))
	defer ts.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: ts.URL + "/v1/", Timeout: time.Second})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrEmptyGeneration)

	// Empty output is transient, so the retry wrapper tries again.
	_, err = NewRetryGenerator(g, 2).WithBackoff(time.Millisecond, time.Millisecond).Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrEmptyGeneration)
	require.Equal(t, int32(4), calls.Load())
	require.Equal(t, "transient", Kind(err))
}

func TestRetryGeneratorRetriesOnlyTransient(t *testing.T) {
	var calls atomic.Int32
	flaky := GeneratorFunc(func(context.Context, string) (string, error) {
		if calls.Add(1) < 3 {
			return "", fmt.Errorf("%w: upstream 503", ErrTransient)
		}
		return "ok", nil
	})
	g := NewRetryGenerator(flaky, 2).WithBackoff(time.Millisecond, 2*time.Millisecond)
	text, err := g.Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.EqualValues(t, 3, calls.Load())

	calls.Store(0)
	refused := GeneratorFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", ErrContentPolicy
	})
	_, err = NewRetryGenerator(refused, 5).WithBackoff(time.Millisecond, time.Millisecond).Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrContentPolicy)
	require.EqualValues(t, 1, calls.Load())
}

func TestRetryGeneratorGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	down := GeneratorFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", ErrTransient
	})
	_, err := NewRetryGenerator(down, 2).WithBackoff(time.Millisecond, time.Millisecond).Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrTransient)
	require.EqualValues(t, 3, calls.Load())
}

func TestFallbackGenerator(t *testing.T) {
	fail := GeneratorFunc(func(context.Context, string) (string, error) { return "", errors.New("boom") })
	ok := GeneratorFunc(func(context.Context, string) (string, error) { return "fallback", nil })

	text, err := NewFallbackGenerator(fail, ok).Generate(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "fallback", text)

	var fallbackCalls int
	counting := GeneratorFunc(func(context.Context, string) (string, error) {
		fallbackCalls++
		return "fallback", nil
	})
	refused := GeneratorFunc(func(context.Context, string) (string, error) { return "", ErrContentPolicy })
	_, err = NewFallbackGenerator(refused, counting).Generate(context.Background(), "p")
	require.ErrorIs(t, err, ErrContentPolicy)

	canceled := GeneratorFunc(func(context.Context, string) (string, error) { return "", context.Canceled })
	_, err = NewFallbackGenerator(canceled, counting).Generate(context.Background(), "p")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, fallbackCalls)
}

func TestObserveReportsEveryCall(t *testing.T) {
	var observed []error
	g := Observe(GeneratorFunc(func(context.Context, string) (string, error) {
		return "", ErrTransient
	}), func(_ time.Duration, err error) {
		observed = append(observed, err)
	})
	_, _ = g.Generate(context.Background(), "p")
	require.Len(t, observed, 1)
	require.Equal(t, "transient", Kind(observed[0]))
}

func TestKind(t *testing.T) {
	require.Equal(t, "", Kind(nil))
	require.Equal(t, "canceled", Kind(fmt.Errorf("x: %w", context.Canceled)))
	require.Equal(t, "content_policy", Kind(fmt.Errorf("x: %w", ErrContentPolicy)))
	require.Equal(t, "transient", Kind(fmt.Errorf("x: %w", ErrTransient)))
	require.Equal(t, "other", Kind(errors.New("x")))
}
