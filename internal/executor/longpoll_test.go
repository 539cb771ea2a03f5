package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kubently/kubently/pkg/command"
)

func TestLongPollClientDecodesCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") != "1" {
			t.Errorf("wait = %q, want 1", r.URL.Query().Get("wait"))
		}
		_ = json.NewEncoder(w).Encode(longPollResponse{Commands: []command.Command{{ID: "c1", ClusterID: "kind"}}})
	}))
	defer srv.Close()

	client := NewLongPollClient(srv.URL, "kind", "tok", nil)
	cmds, err := client.Poll(context.Background(), 1)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(cmds) != 1 || cmds[0].ID != "c1" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestLongPollClientNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewLongPollClient(srv.URL, "kind", "tok", nil)
	cmds, err := client.Poll(context.Background(), 1)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if cmds != nil {
		t.Errorf("expected nil commands on 204, got %+v", cmds)
	}
}
