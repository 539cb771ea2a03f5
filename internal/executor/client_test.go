package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kubently/kubently/pkg/command"
)

func TestClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Cluster-ID") != "kind" {
			t.Errorf("missing X-Cluster-ID header")
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing Authorization header")
		}
		_ = json.NewEncoder(w).Encode(StatusResponse{ClusterID: "kind", IsActive: true, QueueDepth: 3})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "kind", "tok", nil)
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.IsActive || status.QueueDepth != 3 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestReporterReportSuccess(t *testing.T) {
	var received bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporter := NewReporter(NewClient(srv.URL, "kind", "tok", nil))
	if err := reporter.Report(context.Background(), command.Result{CommandID: "c1", Success: true}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !received {
		t.Error("expected request to reach server")
	}
}

func TestReporterNoRetryOn4xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reporter := NewReporter(NewClient(srv.URL, "kind", "tok", nil))
	err := reporter.Report(context.Background(), command.Result{CommandID: "c1", Success: true})
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on application error)", calls)
	}
}

func TestReporterRetriesOnTransportError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// Simulate a transport-level failure by closing the connection
			// without a response.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("expected hijackable response writer")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			_ = conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporter := NewReporter(NewClient(srv.URL, "kind", "tok", nil))
	if err := reporter.Report(context.Background(), command.Result{CommandID: "c1", Success: true}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry on transport error)", calls)
	}
}
