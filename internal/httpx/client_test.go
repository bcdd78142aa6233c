package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

func TestDoJSONRetriesServerErrorOnGet(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	var out map[string]any
	if _, err := client.DoJSON(context.Background(), req, &out); err != nil {
		t.Fatalf("DoJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestDoBodyJSONNeverRetriesPost(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	_, err := DoBodyJSON(context.Background(), client, http.MethodPost, srv.URL, []byte(`{}`), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected exactly one POST attempt, got %d", got)
	}
	if !clierr.Is(err, clierr.CodeServer) {
		t.Fatalf("expected server error code, got %v", err)
	}
}

func TestDoJSONUsesBodyErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"too small"}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 0)
	_, err := DoBodyJSON(context.Background(), client, http.MethodPost, srv.URL, []byte(`{}`), nil, nil)
	cErr, ok := clierr.As(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if cErr.Code != clierr.CodeValidation {
		t.Fatalf("expected validation code, got %d", cErr.Code)
	}
	if clierr.UserMessage(err) != "too small" {
		t.Fatalf("unexpected message %q", clierr.UserMessage(err))
	}
	if cErr.Status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", cErr.Status)
	}
}

func TestDoJSONNotFoundWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := New(2*time.Second, 0)
	_, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL+"/missing", nil, nil, &map[string]any{})
	if !clierr.Is(err, clierr.CodeNotFound) {
		t.Fatalf("expected not found code, got %v", err)
	}
	if got := clierr.UserMessage(err); got != "Resource not found" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestDoJSONNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := New(time.Second, 0)
	_, err := DoBodyJSON(context.Background(), client, http.MethodGet, url, nil, nil, nil)
	if !clierr.Is(err, clierr.CodeNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if clierr.UserMessage(err) == "" {
		t.Fatal("expected raw transport text as message")
	}
}

func TestDoJSONEmptySuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(time.Second, 0)
	var out map[string]any
	_, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, &out)
	if !clierr.Is(err, clierr.CodeServer) {
		t.Fatalf("expected server error for empty body, got %v", err)
	}
}

func TestNormalizeMessage(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   string
	}{
		{400, `{"error":"too small"}`, "too small"},
		{404, ``, "Resource not found"},
		{404, `{"error":"shift not found"}`, "shift not found"},
		{500, `not json`, "Server error. Please try again later."},
		{500, `{"error":""}`, "Server error. Please try again later."},
		{503, ``, "Request failed with status code 503"},
		{422, `{"error":{"message":"bad network"}}`, "bad network"},
	}
	for _, tc := range cases {
		if got := NormalizeMessage(tc.status, []byte(tc.body)); got != tc.want {
			t.Fatalf("status=%d body=%q: expected %q, got %q", tc.status, tc.body, tc.want, got)
		}
	}
}
