package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oerhub/editproc/process"
)

func TestWebhookEventSink(t *testing.T) {
	var got WebhookEvent
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
	}))
	defer srv.Close()

	sink := NewWebhookEventSink(srv.URL, WithAPIKey("hunter2"))
	err := sink.Emit(context.Background(), process.Event{
		Kind: process.EventProcessEnded,
		Data: process.ProcessEndedData{Module: "mod-1"},
	}, []int64{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	if have, want := got.Topic, "editproc.process-ended"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
	if have, want := len(got.Recipients), 2; have != want {
		t.Errorf("have %d recipients, want %d", have, want)
	}
	if have, want := auth, "Bearer hunter2"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
}

func TestWebhookEventSinkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookEventSink(srv.URL)
	err := sink.Emit(context.Background(), process.Event{Kind: process.EventAssigned}, []int64{1})
	if err == nil {
		t.Error("expected an error for a non-2xx reply")
	}
}

func TestUserDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/teams/3/members":
			json.NewEncoder(w).Encode([]int64{1, 2, 5})
		case "/teams/3/users/5/roles":
			json.NewEncoder(w).Encode([]int64{7})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := NewUserDirectory(srv.URL)
	members, err := dir.MembersOf(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(members), 3; have != want {
		t.Errorf("have %d members, want %d", have, want)
	}
	roles, err := dir.RolesOf(context.Background(), 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0] != 7 {
		t.Errorf("have %v, want [7]", roles)
	}
}

func TestDocumentStore(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	docs := NewDocumentStore(srv.URL)
	if err := docs.MergeDraftIntoModule(context.Background(), "mod-9"); err != nil {
		t.Fatal(err)
	}
	if have, want := path, "/modules/mod-9/merge"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
}
