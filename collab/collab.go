// Package collab contains HTTP clients for the external collaborators
// the engine consumes: the document store that merges concluded drafts
// and the user directory answering team membership and role questions.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type config struct {
	client *http.Client
	apiKey string
}

// Option configures a collaborator client.
type Option func(*config)

// WithClient sets a custom HTTP client.
func WithClient(client *http.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{client: http.DefaultClient}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *config) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.client.Do(req)
}

// DocumentStore merges concluded drafts by calling a remote module store.
type DocumentStore struct {
	cfg *config
	url string
}

// NewDocumentStore creates a document store client for the service at baseURL.
func NewDocumentStore(baseURL string, opts ...Option) *DocumentStore {
	return &DocumentStore{cfg: newConfig(opts...), url: baseURL}
}

// MergeDraftIntoModule folds a draft's changes back into its module.
// The remote call is all-or-nothing; any non-2xx reply is a failure.
func (d *DocumentStore) MergeDraftIntoModule(ctx context.Context, moduleID string) error {
	u := d.url + "/modules/" + url.PathEscape(moduleID) + "/merge"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := d.cfg.do(req)
	if err != nil {
		return fmt.Errorf("merging module %s: %w", moduleID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("merging module %s: unexpected status: %s", moduleID, resp.Status)
	}
	return nil
}

// UserDirectory resolves team membership and roles from a remote service.
type UserDirectory struct {
	cfg *config
	url string
}

// NewUserDirectory creates a user directory client for the service at baseURL.
func NewUserDirectory(baseURL string, opts ...Option) *UserDirectory {
	return &UserDirectory{cfg: newConfig(opts...), url: baseURL}
}

func (d *UserDirectory) getIDs(ctx context.Context, u string) ([]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.cfg.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	var ids []int64
	if err = json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return ids, nil
}

// RolesOf returns the roles user holds within team.
func (d *UserDirectory) RolesOf(ctx context.Context, user, team int64) ([]int64, error) {
	ids, err := d.getIDs(ctx, fmt.Sprintf("%s/teams/%d/users/%d/roles", d.url, team, user))
	if err != nil {
		return nil, fmt.Errorf("roles of user %d: %w", user, err)
	}
	return ids, nil
}

// MembersOf returns the users belonging to team.
func (d *UserDirectory) MembersOf(ctx context.Context, team int64) ([]int64, error) {
	ids, err := d.getIDs(ctx, fmt.Sprintf("%s/teams/%d/members", d.url, team))
	if err != nil {
		return nil, fmt.Errorf("members of team %d: %w", team, err)
	}
	return ids, nil
}
