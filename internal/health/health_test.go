package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func serve(t *testing.T, h http.HandlerFunc, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New([]Checker{{Name: "stream", Check: func(context.Context) error { return errors.New("down") }}})
	code, body := serve(t, h.Healthz, t.Context())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     result
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     result{Status: "ok", Checks: map[string]string{}},
		},
		{
			name:     "all pass",
			checkers: []Checker{{Name: "stream", Check: ok}, {Name: "recognizer", Check: ok}},
			wantCode: http.StatusOK,
			want:     result{Status: "ok", Checks: map[string]string{"stream": "ok", "recognizer": "ok"}},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "stream", Check: func(context.Context) error { return errors.New("awaiting first frame") }},
				{Name: "recognizer", Check: ok},
			},
			wantCode: http.StatusServiceUnavailable,
			want: result{Status: "fail", Checks: map[string]string{
				"stream":     "fail: awaiting first frame",
				"recognizer": "ok",
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serve(t, New(tt.checkers).Readyz, t.Context())
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if diff := cmp.Diff(tt.want, body, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadyz_Timeout(t *testing.T) {
	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}, WithCheckTimeout(10*time.Millisecond))

	code, body := serve(t, h.Readyz, t.Context())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Checks["slow"] != "fail: "+context.DeadlineExceeded.Error() {
		t.Errorf("slow check = %q", body.Checks["slow"])
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	ready := false
	h := New([]Checker{Probe("stream", func() error { ready = true; return nil })})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	code, body := serve(t, h.Readyz, ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if ready {
		t.Error("probe should not run with a cancelled context")
	}
	if body.Checks["stream"] != "fail: "+context.Canceled.Error() {
		t.Errorf("stream check = %q", body.Checks["stream"])
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	failing := errors.New("closed")
	h := New([]Checker{Probe("stream", func() error { return failing })})
	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		method, path string
		wantStatus   int
	}{
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/readyz", http.StatusServiceUnavailable},
		{"POST", "/healthz", http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}
