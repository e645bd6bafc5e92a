package pr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentco/agentco/pkg/models"
)

// Request describes the pull request to open.
type Request struct {
	// Title is the pull request title.
	Title string `json:"title"`
	// Body is the pull request description.
	Body string `json:"body"`
	// Head is the branch with the changes.
	Head string `json:"head"`
	// Base is the branch the pull request targets.
	Base string `json:"base"`
}

// Info identifies an opened pull request.
type Info struct {
	// Number is the host-assigned pull request number.
	Number int `json:"number"`
	// URL is the browsable pull request URL.
	URL string `json:"html_url"`
}

// Host opens pull requests on a hosting provider. Tests substitute a
// fake; production wires GitHubHost.
type Host interface {
	// CreatePullRequest opens a pull request and returns its identity.
	CreatePullRequest(ctx context.Context, req Request) (Info, error)
}

// GitHubHost implements Host against the GitHub REST API.
type GitHubHost struct {
	client  *http.Client
	baseURL string
	owner   string
	repo    string
	token   string
}

// NewGitHubHost creates a host for the given repository. An empty
// baseURL targets api.github.com; set it for GitHub Enterprise.
func NewGitHubHost(owner, repo, token, baseURL string, timeout time.Duration) *GitHubHost {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GitHubHost{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		owner:   owner,
		repo:    repo,
		token:   token,
	}
}

// CreatePullRequest opens a pull request via POST /repos/{owner}/{repo}/pulls.
// Failures come back as GitHostError so the caller's retry policy can
// recognize them.
func (h *GitHubHost) CreatePullRequest(ctx context.Context, req Request) (Info, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Info{}, &models.GitHostError{Op: "encode request", Err: err}
	}

	url := fmt.Sprintf("%s/repos/%s/%s/pulls", h.baseURL, h.owner, h.repo)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Info{}, &models.GitHostError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Info{}, &models.GitHostError{Op: "create pull request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Info{}, &models.GitHostError{Op: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusCreated {
		return Info{}, &models.GitHostError{
			Op:  "create pull request",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return Info{}, &models.GitHostError{Op: "decode response", Err: err}
	}
	return info, nil
}

// Verify GitHubHost implements Host at compile time.
var _ Host = (*GitHubHost)(nil)
