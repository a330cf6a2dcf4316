package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc { return func(context.Context) error { return nil } }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func runN(ctx context.Context, p *probe, n int) {
	for range n {
		p.run(ctx)
	}
}

func TestLiveEndpoint(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		setup  func(h *Health)
		code   int
		expect string
	}{
		{
			name:   "no checks",
			setup:  func(*Health) {},
			code:   http.StatusOK,
			expect: `{"status":"ok"}`,
		},
		{
			name: "all passing",
			setup: func(h *Health) {
				h.AddLivenessCheck("goroutines", time.Second, passing())
				h.AddLivenessCheck("gc", time.Second, passing())
			},
			code:   http.StatusOK,
			expect: `{"status":"ok","checks":{"gc":"ok","goroutines":"ok"}}`,
		},
		{
			name: "failure below threshold",
			setup: func(h *Health) {
				h.AddLivenessCheck("flaky", time.Second, failing("temporary"))
				runN(ctx, h.liveness[0], failureThreshold-1)
			},
			code:   http.StatusOK,
			expect: `{"status":"ok","checks":{"flaky":"ok"}}`,
		},
		{
			name: "failure at threshold",
			setup: func(h *Health) {
				h.AddLivenessCheck("db", time.Second, failing("connection refused"))
				runN(ctx, h.liveness[0], failureThreshold)
			},
			code:   http.StatusServiceUnavailable,
			expect: `{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			tt.setup(h)

			w := serve(h.LiveEndpoint)
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.expect, w.Body.String())
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		ready  bool
		setup  func(h *Health)
		code   int
		expect string
	}{
		{
			name:   "gate closed",
			setup:  func(h *Health) { h.AddReadinessCheck("postgres", time.Second, passing()) },
			code:   http.StatusServiceUnavailable,
			expect: `{"status":"unhealthy","checks":{"_readiness":"service is not ready","postgres":"ok"}}`,
		},
		{
			name:   "ready without checks",
			ready:  true,
			setup:  func(*Health) {},
			code:   http.StatusOK,
			expect: `{"status":"ok"}`,
		},
		{
			name:  "one dependency down",
			ready: true,
			setup: func(h *Health) {
				h.AddReadinessCheck("postgres", time.Second, passing())
				h.AddReadinessCheck("redis", time.Second, failing("dial tcp: refused"))
				runN(ctx, h.readiness[1], failureThreshold)
			},
			code:   http.StatusServiceUnavailable,
			expect: `{"status":"unhealthy","checks":{"postgres":"ok","redis":"dial tcp: refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			tt.setup(h)
			h.SetReady(tt.ready)

			w := serve(h.ReadyEndpoint)
			assert.Equal(t, tt.code, w.Code)
			assert.JSONEq(t, tt.expect, w.Body.String())
		})
	}
}

func TestIsReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passing())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestProbeRecovery(t *testing.T) {
	down := true
	h := New()
	h.AddLivenessCheck("flaky", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	p := h.liveness[0]
	ctx := context.Background()

	assert.Nil(t, p.err())
	runN(ctx, p, failureThreshold)
	assert.False(t, p.isHealthy())
	assert.EqualError(t, p.err(), "down")

	down = false
	p.run(ctx)
	assert.True(t, p.isHealthy())
}

func TestProbeTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := h.readiness[0]
	p.run(context.Background())
	require.ErrorIs(t, p.err(), context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("always", time.Second, failing("err"))
	h.AddReadinessCheck("always", time.Second, passing())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		return serve(h.LiveEndpoint).Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	assert.ErrorContains(t, GoroutineCountCheck(0)(ctx), "exceeds threshold")
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))

	assert.NoError(t, PingCheck("postgres", pingerFunc(func(context.Context) error { return nil }))(ctx))
	err := PingCheck("redis", pingerFunc(func(context.Context) error { return errors.New("refused") }))(ctx)
	assert.EqualError(t, err, "ping redis: refused")
}
