package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func passingCheck() CheckFunc {
	return func(_ context.Context) error {
		return nil
	}
}

func failingCheck(msg string) CheckFunc {
	return func(_ context.Context) error {
		return errors.New(msg)
	}
}

func get(t *testing.T, h http.HandlerFunc, path string) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	h.Add(Check{Name: "ok", Func: passingCheck()})
	h.Add(Check{Name: "db", Func: failingCheck("connection refused")})
	h.Add(Check{Name: "cache", Kind: Readiness, Func: failingCheck("ignored by livez")})

	code, body := get(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code, "checks start healthy")
	assert.Equal(t, "ok", body.Status)

	ctx := context.Background()
	db := h.checks[1]
	db.run(ctx)
	db.run(ctx)
	code, _ = get(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code, "below failure threshold")

	assert.True(t, db.run(ctx), "third failure flips the check")
	code, body = get(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"db": "connection refused"}, body.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	h := New(nil)
	h.Add(Check{Name: "postgres", Kind: Readiness, Func: passingCheck()})
	h.Add(Check{Name: "redis", Kind: Readiness, FailureThreshold: 1, Func: failingCheck("timeout")})

	code, body := get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is not ready", body.Checks["_readiness"])

	h.SetReady(true)
	code, _ = get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	h.checks[1].run(context.Background())
	code, body = get(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"redis": "timeout"}, body.Checks)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheckRecovery(t *testing.T) {
	failing := true
	h := New(nil)
	h.Add(Check{Name: "flaky", SuccessThreshold: 2, Func: func(_ context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}})
	c := h.checks[0]
	ctx := context.Background()

	assert.Nil(t, c.lastError())
	for range 3 {
		c.run(ctx)
	}
	assert.False(t, c.healthy.Load())
	assert.EqualError(t, c.lastError(), "down")

	failing = false
	assert.False(t, c.run(ctx), "one success is below the success threshold")
	assert.True(t, c.run(ctx))
	assert.True(t, c.healthy.Load())
}

func TestCheckTimeout(t *testing.T) {
	h := New(nil)
	h.Add(Check{Name: "slow", Timeout: 10 * time.Millisecond, FailureThreshold: 1, Func: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h.checks[0].run(context.Background())
	assert.ErrorIs(t, h.checks[0].lastError(), context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New(zaptest.NewLogger(t))
	h.Add(Check{Name: "counter", Func: func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}})
	h.Add(Check{Name: "broken", Kind: Readiness, FailureThreshold: 1, Func: failingCheck("err")})
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	h.Stop()
	h.Stop()

	mu.Lock()
	assert.Positive(t, calls)
	mu.Unlock()
}

func TestMount(t *testing.T) {
	h := New(nil)
	h.SetReady(true)
	mux := http.NewServeMux()
	h.Mount(mux)

	for _, path := range []string{"/livez", "/readyz"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestPingCheck(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	assert.NoError(t, PingCheck("redis", ok)(context.Background()))

	down := PingFunc(func(context.Context) error { return errors.New("refused") })
	assert.EqualError(t, PingCheck("redis", down)(context.Background()), "ping redis: refused")
}
