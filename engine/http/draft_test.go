package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oerhub/editproc/engine"
	"github.com/oerhub/editproc/engine/storage/inmem"
	"github.com/oerhub/editproc/process"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
)

type fakeDocs struct {
	merged []string
}

func (d *fakeDocs) MergeDraftIntoModule(_ context.Context, moduleID string) error {
	d.merged = append(d.merged, moduleID)
	return nil
}

type fakeUsers struct {
	members []int64
}

func (u *fakeUsers) RolesOf(_ context.Context, _, _ int64) ([]int64, error) { return nil, nil }
func (u *fakeUsers) MembersOf(_ context.Context, _ int64) ([]int64, error) {
	return u.members, nil
}

func post(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
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

func TestDraftAPI(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	version, err := store.CreateProcess(ctx, &process.Tree{
		Name:  "Edit and publish",
		Slots: []process.TreeSlot{{Name: "Author"}},
		Steps: []process.TreeStep{
			{
				Name: "Writing",
				Slots: []process.TreeStepSlot{
					{Slot: 0, Permission: process.PermissionEdit},
				},
				Links: []process.TreeLink{{Name: "Publish", To: 1, Slot: 0}},
			},
			{Name: "Published"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	tree, err := store.RetrieveStructure(ctx, version.ID)
	if err != nil {
		t.Fatal(err)
	}
	authorID := tree.Slots[0].ID
	doneID := tree.Steps[1].ID

	docs := new(fakeDocs)
	e := engine.New(store, docs, &fakeUsers{members: []int64{1}})

	mux := flow.New()
	HandleAPIv1("/v1", mux, log.NopLogger, e)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	const module = "7a1746ba-f550-46b9-a166-e00d68f92ad9"

	// module IDs have to be UUIDs
	resp := post(t, srv, "/v1/modules/not-a-uuid/drafts", map[string]interface{}{
		"team": 1, "version": version.ID,
	})
	resp.Body.Close()
	if have, want := resp.StatusCode, http.StatusBadRequest; have != want {
		t.Errorf("have %d, want %d", have, want)
	}

	resp = post(t, srv, "/v1/modules/"+module+"/drafts", map[string]interface{}{
		"team":    1,
		"version": version.ID,
		"assignments": []map[string]int64{
			{"slot": authorID, "user": 1},
		},
	})
	if have, want := resp.StatusCode, http.StatusCreated; have != want {
		t.Fatalf("have %d, want %d", have, want)
	}
	var draft draftJSON
	if err = json.NewDecoder(resp.Body).Decode(&draft); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if have, want := draft.Step, tree.Steps[0].ID; have != want {
		t.Errorf("have %d, want %d", have, want)
	}

	// beginning again conflicts
	resp = post(t, srv, "/v1/modules/"+module+"/drafts", map[string]interface{}{
		"team": 1, "version": version.ID,
	})
	resp.Body.Close()
	if have, want := resp.StatusCode, http.StatusConflict; have != want {
		t.Errorf("have %d, want %d", have, want)
	}

	resp, err = http.Get(srv.URL + "/v1/drafts/" + module + "/process")
	if err != nil {
		t.Fatal(err)
	}
	var seats []seatJSON
	if err = json.NewDecoder(resp.Body).Decode(&seats); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(seats) != 1 || seats[0].User == nil || *seats[0].User != 1 {
		t.Errorf("have %+v, want the author seated as user 1", seats)
	}

	// a stranger cannot advance
	resp = post(t, srv, "/v1/drafts/"+module+"/advance", map[string]int64{
		"user": 9, "slot": authorID, "to": doneID,
	})
	resp.Body.Close()
	if have, want := resp.StatusCode, http.StatusForbidden; have != want {
		t.Errorf("have %d, want %d", have, want)
	}

	resp = post(t, srv, "/v1/drafts/"+module+"/advance", map[string]int64{
		"user": 1, "slot": authorID, "to": doneID,
	})
	if have, want := resp.StatusCode, http.StatusOK; have != want {
		t.Fatalf("have %d, want %d", have, want)
	}
	var result struct {
		Code  string     `json:"code"`
		Draft *draftJSON `json:"draft"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if have, want := result.Code, engine.AdvanceResultFinished; have != want {
		t.Errorf("have %q, want %q", have, want)
	}
	if result.Draft != nil {
		t.Error("finished advance should not return a draft")
	}
	if have, want := fmt.Sprintf("%v", docs.merged), "["+module+"]"; have != want {
		t.Errorf("have %s, want %s", have, want)
	}

	// the draft is gone
	resp, err = http.Get(srv.URL + "/v1/drafts/" + module + "/process")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if have, want := resp.StatusCode, http.StatusNotFound; have != want {
		t.Errorf("have %d, want %d", have, want)
	}
}
