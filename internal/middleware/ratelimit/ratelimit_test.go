package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowBurstThenReject(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("third request should be rejected")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other clients have their own bucket")
	}

	m := rl.GetMetrics()
	if m.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", m.Rejected)
	}
	if m.ClientCount != 2 || rl.ActiveClients() != 2 {
		t.Errorf("client count = %d, want 2", m.ClientCount)
	}
}

func TestNewLimiterDefaults(t *testing.T) {
	rl := NewLimiter(Config{})
	def := DefaultConfig()
	if rl.burst != def.Burst {
		t.Errorf("burst = %d, want %d", rl.burst, def.Burst)
	}
	if float64(rl.limit) != def.RequestsPerSecond {
		t.Errorf("limit = %v, want %v", rl.limit, def.RequestsPerSecond)
	}
}

func TestMiddleware(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerSecond: 0.001, Burst: 1})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	byHeader := func(r *http.Request) string { return r.Header.Get("X-Client") }

	tests := []struct {
		name    string
		onLimit func(http.ResponseWriter, *http.Request)
		want    int
	}{
		{"default response", nil, http.StatusTooManyRequests},
		{"custom response", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := rl.Middleware(byHeader, tt.onLimit)(ok)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Client", tt.name)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusNoContent {
				t.Fatalf("first request status=%d", rr.Code)
			}

			rr = httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("limited request status=%d, want %d", rr.Code, tt.want)
			}
			if rr.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After")
			}
		})
	}
}
