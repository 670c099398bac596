package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/registry"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(msg goopenai.ChatCompletionMessage) goopenai.ChatCompletionResponse {
	return goopenai.ChatCompletionResponse{
		ID:      "chatcmpl-1",
		Object:  "chat.completion",
		Model:   "test",
		Choices: []goopenai.ChatCompletionChoice{{Index: 0, Message: msg, FinishReason: goopenai.FinishReasonStop}},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": msg, "type": "server_error"}})
}

func newTestInvoker(t *testing.T, handler http.HandlerFunc, opts ...Option) *Invoker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/v1"
	cfg.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Factor: 2}

	inv, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inv.Close() })
	return inv
}

func nodeContext() domain.NodeContext {
	temperature := 0.3
	return domain.NodeContext{
		RunID:       "r1",
		Model:       "z-ai/glm-4.5",
		Temperature: &temperature,
		Node:        domain.Node{ID: 0, Kind: domain.KindAgent},
	}
}

func TestInvoke_PlainReply(t *testing.T) {
	var got goopenai.ChatCompletionRequest
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{Role: "assistant", Content: "hello back"}))
	})

	out, err := inv.Invoke(context.Background(), "hello", nodeContext())
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
	assert.Equal(t, "z-ai/glm-4.5", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Empty(t, got.Tools)
}

func TestInvoke_NodeFilesBecomeMessages(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.md")
	require.NoError(t, os.WriteFile(rules, []byte("be brief"), 0o644))

	var got goopenai.ChatCompletionRequest
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{Role: "assistant", Content: "ok"}))
	})

	nc := nodeContext()
	nc.Node.Files = []string{"role:system:" + rules}
	_, err := inv.Invoke(context.Background(), "task", nc)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
}

func TestInvoke_ToolLoop(t *testing.T) {
	tools := registry.NewRegistry()
	registry.RegisterBuiltins(tools)

	var calls int32
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		var req goopenai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if atomic.AddInt32(&calls, 1) == 1 {
			assert.NotEmpty(t, req.Tools)
			writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []goopenai.ToolCall{{
					ID:       "call_1",
					Type:     goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{Name: "to_upper", Arguments: `{"text":"neon"}`},
				}},
			}))
			return
		}
		last := req.Messages[len(req.Messages)-1]
		assert.Equal(t, "tool", last.Role)
		assert.Equal(t, "call_1", last.ToolCallID)
		writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{Role: "assistant", Content: "tool said " + last.Content}))
	}, WithTools(tools))

	out, err := inv.Invoke(context.Background(), "shout", nodeContext())
	require.NoError(t, err)
	assert.Equal(t, `tool said {"result":"NEON"}`, out)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvoke_ToolRoundsExhausted(t *testing.T) {
	tools := registry.NewRegistry()
	registry.RegisterBuiltins(tools)

	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{
			Role: "assistant",
			ToolCalls: []goopenai.ToolCall{{
				ID: "c", Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{Name: "pwd", Arguments: "{}"},
			}},
		}))
	}, WithTools(tools))

	_, err := inv.Invoke(context.Background(), "loop", nodeContext())
	assert.ErrorIs(t, err, ErrToolRounds)
}

func TestInvoke_RetriesTransientErrors(t *testing.T) {
	var calls int32
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			apiError(w, http.StatusServiceUnavailable, "upstream unavailable")
			return
		}
		writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{Role: "assistant", Content: "finally"}))
	})

	out, err := inv.Invoke(context.Background(), "x", nodeContext())
	require.NoError(t, err)
	assert.Equal(t, "finally", out)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestInvoke_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		apiError(w, http.StatusBadRequest, "bad model")
	})

	_, err := inv.Invoke(context.Background(), "x", nodeContext())
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestInvoke_CircuitOpens(t *testing.T) {
	var calls int32
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		apiError(w, http.StatusInternalServerError, "boom")
	})
	inv.breaker = NewBreaker(BreakerConfig{MaxFailures: 2, Timeout: time.Hour})
	require.NotNil(t, inv.breaker)

	_, err := inv.Invoke(context.Background(), "x", nodeContext())
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	_, err = inv.Invoke(context.Background(), "x", nodeContext())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.True(t, inv.breaker.Open())
}

func TestInvoke_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls int32
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		apiError(w, http.StatusBadRequest, "bad model")
	})
	inv.breaker = NewBreaker(BreakerConfig{MaxFailures: 1, Timeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := inv.Invoke(context.Background(), "x", nodeContext())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.False(t, inv.breaker.Open())
}

func TestInvoke_TemperaturePrecedence(t *testing.T) {
	var got goopenai.ChatCompletionRequest
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		got = goopenai.ChatCompletionRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{Role: "assistant", Content: "ok"}))
	})
	inv.cfg.Temperature = 0.9

	nc := nodeContext()
	nc.Temperature = nil
	_, err := inv.Invoke(context.Background(), "x", nc)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Temperature, 1e-6, "configured temperature applies when the workflow sets none")

	zero := 0.0
	nc.Temperature = &zero
	_, err = inv.Invoke(context.Background(), "x", nc)
	require.NoError(t, err)
	assert.Greater(t, got.Temperature, float32(0), "an explicit zero is still sent")
	assert.InDelta(t, 0, got.Temperature, 1e-6)
}

func TestInvoke_RetriesStopWhenContextEnds(t *testing.T) {
	var calls int32
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		apiError(w, http.StatusServiceUnavailable, "upstream unavailable")
	})
	inv.cfg.Retry = RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour, Factor: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := inv.Invoke(ctx, "x", nodeContext())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		kind      RetryKind
		retryable bool
	}{
		{&goopenai.APIError{HTTPStatusCode: 429}, RetryRateLimit, true},
		{&goopenai.APIError{HTTPStatusCode: 502}, RetryUnavailable, true},
		{&goopenai.APIError{HTTPStatusCode: 401}, "", false},
		{&goopenai.RequestError{HTTPStatusCode: 504, Err: errors.New("gw")}, RetryTimeout, true},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), RetryTimeout, true},
		{context.Canceled, "", false},
		{errors.New("connection refused"), RetryNetwork, true},
		{errors.New("quota exhausted"), RetryExhausted, true},
		{errors.New("service temporarily unavailable"), RetryUnavailable, true},
		{errors.New("invalid prompt"), "", false},
		{ErrCircuitOpen, "", false},
	}
	for _, tt := range tests {
		kind, ok := Classify(tt.err)
		assert.Equal(t, tt.retryable, ok, tt.err.Error())
		assert.Equal(t, tt.kind, kind, tt.err.Error())
	}
}

func TestRetryPolicy_Schedule(t *testing.T) {
	b := DefaultRetryPolicy().newBackOff()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "wait %d", i)
	}

	q := RetryPolicy{}.normalized()
	assert.Equal(t, 1, q.MaxAttempts)
	assert.Equal(t, time.Second, q.BaseDelay)
	assert.Equal(t, 2.0, q.Factor)
}

func TestBreaker_HalfOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond})
	unavailable := &goopenai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}

	_, err := b.Execute(func() (any, error) { return nil, unavailable })
	assert.ErrorIs(t, err, unavailable)
	assert.True(t, b.Open())

	_, err = b.Execute(func() (any, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	require.Eventually(t, func() bool { return !b.Open() }, time.Second, 5*time.Millisecond)
	out, err := b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.False(t, b.Open())
}

func TestBreaker_Disabled(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	assert.Nil(t, b)
	assert.False(t, b.Open())
	out, err := b.Execute(func() (any, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestLimiter(t *testing.T) {
	l := newLimiter(1, time.Hour)
	require.NotNil(t, l)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))

	assert.Nil(t, newLimiter(0, time.Minute))
	assert.Nil(t, newLimiter(5, 0))
}

func TestInvoke_RateLimited(t *testing.T) {
	var calls int32
	inv := newTestInvoker(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, completion(goopenai.ChatCompletionMessage{Role: "assistant", Content: "ok"}))
	})
	inv.limiter = newLimiter(1, time.Hour)

	_, err := inv.Invoke(context.Background(), "x", nodeContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, "x", nodeContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.APIKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.RateLimit = 5
	cfg.RateLimitInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv(DefaultAPIKeyEnv, "secret")
	t.Setenv("NEONFLOW_MODEL", "other/model")
	t.Setenv("NEONFLOW_BASE_URL", "")
	t.Setenv("NEONFLOW_RATE_LIMIT", "")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "other/model", cfg.Model)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
}
