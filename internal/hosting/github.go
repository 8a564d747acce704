// Package hosting talks to the service that hosts destination repositories.
package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const (
	defaultAPIURL    = "https://api.github.com"
	defaultCloneHost = "github.com"
	apiVersion       = "2022-11-28"
	pageSize         = 100
)

// ErrNotFound is returned when a repository does not exist.
var ErrNotFound = errors.New("repository not found")

// Repository describes a hosted repository.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	CloneURL string `json:"clone_url"`
	Private  bool   `json:"private"`
}

// Provider is the part of the hosting service the mirror needs.
type Provider interface {
	RepositoryExists(ctx context.Context, slug string) (bool, error)
	CreateRepository(ctx context.Context, slug, kind string) (*Repository, error)
	CloneURL(slug string) string
}

// Options configures a GitHub client.
type Options struct {
	APIURL     string
	CloneHost  string
	Owner      string
	Token      string
	MaxRetries int
	Timeout    time.Duration
}

// GitHub is a Provider backed by the GitHub REST API. Repositories are
// created under an organization.
type GitHub struct {
	client    *retryablehttp.Client
	apiURL    string
	cloneHost string
	owner     string
	token     string
}

// NewGitHub returns a GitHub client.
func NewGitHub(opts Options) (*GitHub, error) {
	if opts.Owner == "" {
		return nil, errors.New("hosting owner is not set")
	}
	if opts.Token == "" {
		return nil, errors.New("hosting token is not set")
	}

	apiURL := strings.TrimSuffix(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	cloneHost := opts.CloneHost
	if cloneHost == "" {
		cloneHost = defaultCloneHost
	}

	client := retryablehttp.NewClient()
	client.Logger = slog.Default()
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = opts.Timeout

	return &GitHub{
		client:    client,
		apiURL:    apiURL,
		cloneHost: cloneHost,
		owner:     opts.Owner,
		token:     opts.Token,
	}, nil
}

// Owner returns the organization repositories are created under.
func (g *GitHub) Owner() string {
	return g.owner
}

// CloneURL returns an authenticated HTTPS clone URL for slug.
func (g *GitHub) CloneURL(slug string) string {
	return fmt.Sprintf("https://oauth2:%s@%s/%s/%s.git", g.token, g.cloneHost, g.owner, slug)
}

func (g *GitHub) newRequest(ctx context.Context, method, path string, body any) (*retryablehttp.Request, error) {
	var payload any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = data
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, g.apiURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (g *GitHub) do(req *retryablehttp.Request) (int, []byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// apiError builds an error from a GitHub error payload.
func apiError(op string, status int, body []byte) error {
	msg := ""
	if gjson.ValidBytes(body) {
		msg = gjson.GetBytes(body, "message").String()
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return errors.Newf("%s: status %d: %s", op, status, msg)
}

// RepositoryExists reports whether owner/slug exists.
func (g *GitHub) RepositoryExists(ctx context.Context, slug string) (bool, error) {
	req, err := g.newRequest(ctx, http.MethodGet, "/repos/"+g.owner+"/"+url.PathEscape(slug), nil)
	if err != nil {
		return false, err
	}
	status, body, err := g.do(req)
	if err != nil {
		return false, errors.Wrapf(err, "get repository %s", slug)
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	}
	return false, apiError("get repository "+slug, status, body)
}

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	HasIssues   bool   `json:"has_issues"`
	HasProjects bool   `json:"has_projects"`
	HasWiki     bool   `json:"has_wiki"`
}

// CreateRepository creates a private repository without issues, projects
// or wiki. kind is the short package kind, such as "plugin".
func (g *GitHub) CreateRepository(ctx context.Context, slug, kind string) (*Repository, error) {
	body := createRequest{
		Name:        slug,
		Description: fmt.Sprintf("This Repository Tracks the %s private wordpress %s.", slug, kind),
		Private:     true,
	}
	req, err := g.newRequest(ctx, http.MethodPost, "/orgs/"+g.owner+"/repos", body)
	if err != nil {
		return nil, err
	}
	status, data, err := g.do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "create repository %s", slug)
	}
	if status != http.StatusCreated {
		return nil, apiError("create repository "+slug, status, data)
	}

	var repo Repository
	if err := json.Unmarshal(data, &repo); err != nil {
		return nil, errors.Wrapf(err, "decode created repository %s", slug)
	}
	slog.Info("repository created", "owner", g.owner, "slug", slug, "url", repo.HTMLURL)
	return &repo, nil
}

// ListRepositories returns every repository of the organization.
func (g *GitHub) ListRepositories(ctx context.Context) ([]Repository, error) {
	var all []Repository
	for page := 1; ; page++ {
		path := fmt.Sprintf("/orgs/%s/repos?per_page=%d&page=%d", g.owner, pageSize, page)
		req, err := g.newRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		status, data, err := g.do(req)
		if err != nil {
			return nil, errors.Wrap(err, "list repositories")
		}
		if status != http.StatusOK {
			return nil, apiError("list repositories", status, data)
		}

		var repos []Repository
		if err := json.Unmarshal(data, &repos); err != nil {
			return nil, errors.Wrap(err, "decode repository list")
		}
		all = append(all, repos...)
		if len(repos) < pageSize {
			return all, nil
		}
	}
}

// DeleteRepository deletes owner/slug.
func (g *GitHub) DeleteRepository(ctx context.Context, slug string) error {
	req, err := g.newRequest(ctx, http.MethodDelete, "/repos/"+g.owner+"/"+url.PathEscape(slug), nil)
	if err != nil {
		return err
	}
	status, data, err := g.do(req)
	if err != nil {
		return errors.Wrapf(err, "delete repository %s", slug)
	}
	switch status {
	case http.StatusNoContent, http.StatusOK:
		slog.Info("repository deleted", "owner", g.owner, "slug", slug)
		return nil
	case http.StatusNotFound:
		return errors.Wrapf(ErrNotFound, "%s/%s", g.owner, slug)
	}
	return apiError("delete repository "+slug, status, data)
}
