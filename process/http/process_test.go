package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oerhub/editproc/engine/storage"
	"github.com/oerhub/editproc/engine/storage/inmem"
	"github.com/oerhub/editproc/process"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

func postJSON(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestProcessAPI(t *testing.T) {
	store := inmem.New()
	mux := flow.New()
	HandleAPIv1("/v1", mux, log.NopLogger, store)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tree := &process.Tree{
		Name: "Peer review",
		Slots: []process.TreeSlot{
			{Name: "Author"},
		},
		Steps: []process.TreeStep{
			{
				Name: "Writing",
				Slots: []process.TreeStepSlot{
					{Slot: 0, Permission: process.PermissionEdit},
				},
				Links: []process.TreeLink{{Name: "Submit", To: 1, Slot: 0}},
			},
			{Name: "Done"},
		},
	}

	resp := postJSON(t, srv, "/v1/processes", tree)
	if have, want := resp.StatusCode, http.StatusCreated; have != want {
		t.Fatalf("have %d, want %d", have, want)
	}
	var created struct {
		ID      int64 `json:"id"`
		Process int64 `json:"process"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	// a duplicate name conflicts
	resp = postJSON(t, srv, "/v1/processes", tree)
	if have, want := resp.StatusCode, http.StatusConflict; have != want {
		t.Errorf("have %d, want %d", have, want)
	}
	resp.Body.Close()

	// a malformed tree is a client error
	bad := *tree
	bad.Name = "Broken"
	bad.Start = 7
	resp = postJSON(t, srv, "/v1/processes", &bad)
	if have, want := resp.StatusCode, http.StatusBadRequest; have != want {
		t.Errorf("have %d, want %d", have, want)
	}
	resp.Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/v1/processes/%d/structure", srv.URL, created.Process))
	if err != nil {
		t.Fatal(err)
	}
	var got process.Tree
	if err = json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if have, want := got.Name, "Peer review"; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
	if len(got.Steps) != 2 || got.Steps[0].ID == 0 {
		t.Errorf("have %+v, want two steps with assigned IDs", got.Steps)
	}
	if len(got.Steps[0].Links) != 1 || got.Steps[0].Links[0].To != 1 {
		t.Errorf("have %+v, want the Submit link back", got.Steps[0].Links)
	}

	// deleting a version a draft referenced conflicts
	err = store.CreateDraft(context.Background(), &storage.Draft{
		ModuleID:  "72b60dad-whatever-is-not-validated-here",
		VersionID: created.ID,
		StepID:    got.Steps[0].ID,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/v1/processes/%d/versions/%d", srv.URL, created.Process, created.ID), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if have, want := resp.StatusCode, http.StatusConflict; have != want {
		t.Errorf("have %d, want %d", have, want)
	}

	// unknown process
	resp, err = http.Get(srv.URL + "/v1/processes/999999")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if have, want := resp.StatusCode, http.StatusNotFound; have != want {
		t.Errorf("have %d, want %d", have, want)
	}
}
