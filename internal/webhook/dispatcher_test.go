package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talkincode/wagate/internal/domain"
)

type mapResolver map[string]domain.WebhookEndpoints

func (m mapResolver) WebhookEndpoint(sessionID string, category domain.WebhookCategory) (string, bool) {
	ep, ok := m[sessionID]
	if !ok {
		return "", false
	}
	url := ep.For(category)
	return url, url != ""
}

func testOptions() Options {
	return Options{
		Timeout:        time.Second,
		Retries:        2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func countingServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDispatchWithoutEndpointIsNoop(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)
	resolver := mapResolver{"s1": {Status: srv.URL}}
	d, err := NewDispatcher(resolver, testOptions())
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Dispatch(context.Background(), "s1", domain.WebhookReceive, map[string]string{"a": "b"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Dispatch(context.Background(), "unknown", domain.WebhookReceive, nil); err != nil {
		t.Fatalf("dispatch unknown: %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 0 {
		t.Fatalf("requests got=%d want=0", n)
	}
}

func TestDispatchDeliversOnce(t *testing.T) {
	var got map[string]interface{}
	var headers http.Header
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := NewDispatcher(mapResolver{"s1": {Receive: srv.URL}}, testOptions())
	err := d.Dispatch(context.Background(), "s1", domain.WebhookReceive, map[string]string{"messageId": "M1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("requests got=%d want=1", n)
	}
	if got["messageId"] != "M1" {
		t.Fatalf("body got=%v", got)
	}
	if headers.Get("X-Wagate-Category") != "receive" || headers.Get("X-Wagate-Session") != "s1" {
		t.Fatalf("headers got=%v", headers)
	}
	if headers.Get("X-Wagate-Delivery") == "" {
		t.Fatal("missing delivery id")
	}
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	srv, hits := countingServer(t, http.StatusBadGateway)
	d, _ := NewDispatcher(mapResolver{"s1": {Send: srv.URL}}, testOptions())

	if err := d.Dispatch(context.Background(), "s1", domain.WebhookSend, struct{}{}); err == nil {
		t.Fatal("expected failure after exhausted retries")
	}
	if n := atomic.LoadInt32(hits); n != 3 {
		t.Fatalf("requests got=%d want=3", n)
	}
}

func TestDispatchDoesNotRetryClientErrors(t *testing.T) {
	srv, hits := countingServer(t, http.StatusNotFound)
	d, _ := NewDispatcher(mapResolver{"s1": {Status: srv.URL}}, testOptions())

	if err := d.Dispatch(context.Background(), "s1", domain.WebhookStatus, struct{}{}); err == nil {
		t.Fatal("expected failure on 404")
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Fatalf("requests got=%d want=1", n)
	}
}

func TestDispatchHonorsCancelledContext(t *testing.T) {
	srv, hits := countingServer(t, http.StatusBadGateway)
	d, _ := NewDispatcher(mapResolver{"s1": {Receive: srv.URL}}, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Dispatch(ctx, "s1", domain.WebhookReceive, struct{}{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if n := atomic.LoadInt32(hits); n != 0 {
		t.Fatalf("requests got=%d want=0", n)
	}
}

func TestDispatchStopsRetryingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	opts := testOptions()
	opts.Retries = 5
	d, _ := NewDispatcher(mapResolver{"s1": {Receive: srv.URL}}, opts)

	if err := d.Dispatch(ctx, "s1", domain.WebhookReceive, struct{}{}); err == nil {
		t.Fatal("expected failure")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("requests got=%d want=1", n)
	}
}

func TestDispatchRetriesTimeouts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	d, _ := NewDispatcher(mapResolver{"s1": {Status: srv.URL}}, opts)

	if err := d.Dispatch(context.Background(), "s1", domain.WebhookStatus, struct{}{}); err == nil {
		t.Fatal("expected failure after timeouts")
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("requests got=%d want=3", n)
	}
}

func TestIsTimeout(t *testing.T) {
	if !isTimeout(context.DeadlineExceeded) {
		t.Fatal("deadline should be retried")
	}
	if isTimeout(errors.New("dial tcp 127.0.0.1:1: connect: connection refused")) {
		t.Fatal("refused connection should not be retried")
	}
	if !isTimeout(&net.DNSError{Err: "i/o timeout", IsTimeout: true}) {
		t.Fatal("net timeout should be retried")
	}
}
