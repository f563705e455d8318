// Package github adapts the GitHub REST client to the operations the fix
// publisher needs: refs, file contents and pull requests. Failures are
// classified into a few sentinel errors.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"
)

var (
	// ErrNotFound is returned for a missing ref, file or pull request.
	ErrNotFound = errors.New("not found")

	// ErrStaleSHA is returned when a content write names an outdated blob sha.
	ErrStaleSHA = errors.New("file changed since it was read")

	// ErrMergeRejected is returned when a pull request cannot be merged.
	ErrMergeRejected = errors.New("merge rejected")

	// ErrFileTooLarge is returned for files the contents API does not inline.
	ErrFileTooLarge = errors.New("file too large for the contents API")
)

// APIError is a non-2xx response from the API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string

	kind  error
	cause error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Unwrap exposes the sentinel classifying the failure and the client error
func (e *APIError) Unwrap() []error {
	if e.kind == nil {
		return []error{e.cause}
	}
	return []error{e.kind, e.cause}
}

// FileContent is a decoded file at some ref
type FileContent struct {
	Path    string
	Content string
	SHA     string
}

// PullRequest is a created pull request
type PullRequest struct {
	Number int
	URL    string
}

// Client talks to one repository
type Client struct {
	gh      *gh.Client
	owner   string
	repo    string
	timeout time.Duration
}

// NewClient creates a client for repo in owner/name form. baseURL points at
// the REST root, e.g. https://api.github.com or a GitHub Enterprise /api/v3.
func NewClient(baseURL, token, repo string, timeout time.Duration) (*Client, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("repository must be owner/name, got %q", repo)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := gh.NewClient(&http.Client{})
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API base %q: %w", baseURL, err)
		}
		client.BaseURL = base
	}

	return &Client{gh: client, owner: owner, repo: name, timeout: timeout}, nil
}

// Repository returns owner/name
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// GetRef returns the commit sha a branch points at
func (c *Client) GetRef(ctx context.Context, branch string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		return "", classify(err)
	}
	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("ref %s has no sha", branch)
	}
	return sha, nil
}

// CreateRef creates branch pointing at sha
func (c *Client) CreateRef(ctx context.Context, branch, sha string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, _, err := c.gh.Git.CreateRef(ctx, c.owner, c.repo, &gh.Reference{
		Ref:    gh.Ptr("refs/heads/" + branch),
		Object: &gh.GitObject{SHA: gh.Ptr(sha)},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// GetFile fetches and decodes a file at ref
func (c *Client) GetFile(ctx context.Context, path, ref string) (*FileContent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	file, _, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, classify(err)
	}
	if file == nil || file.GetType() != "file" {
		return nil, fmt.Errorf("%s is not a file", path)
	}
	// blobs over 1 MB come back without inline content
	if file.GetEncoding() == "none" {
		return nil, fmt.Errorf("%s (%d bytes): %w", path, file.GetSize(), ErrFileTooLarge)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &FileContent{Path: path, Content: content, SHA: file.GetSHA()}, nil
}

// PutFile writes content to path on branch. sha must be the blob sha the
// content was derived from; the API rejects the write if it is stale.
func (c *Client) PutFile(ctx context.Context, path, content, sha, branch, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, _, err := c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, path, &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: []byte(content),
		SHA:     gh.Ptr(sha),
		Branch:  gh.Ptr(branch),
	})
	if err != nil {
		return classify(err, staleOn...)
	}
	return nil
}

// CreatePullRequest opens a pull request from head into base
func (c *Client) CreatePullRequest(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
		Title: gh.Ptr(title),
		Head:  gh.Ptr(head),
		Base:  gh.Ptr(base),
		Body:  gh.Ptr(body),
	})
	if err != nil {
		return nil, classify(err)
	}
	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// MergePullRequest merges a pull request with method (merge, squash, rebase)
func (c *Client) MergePullRequest(ctx context.Context, number int, method string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, _, err := c.gh.PullRequests.Merge(ctx, c.owner, c.repo, number, "", &gh.PullRequestOptions{MergeMethod: method})
	if err != nil {
		return classify(err, mergeRejectedOn...)
	}
	if !result.GetMerged() {
		return fmt.Errorf("pull request %d: %w: %s", number, ErrMergeRejected, result.GetMessage())
	}
	return nil
}

// conflict statuses per operation, mapped onto a sentinel
type statusKind struct {
	status int
	kind   error
}

var (
	staleOn = []statusKind{
		{http.StatusConflict, ErrStaleSHA},
		{http.StatusUnprocessableEntity, ErrStaleSHA},
	}
	mergeRejectedOn = []statusKind{
		{http.StatusMethodNotAllowed, ErrMergeRejected},
		{http.StatusConflict, ErrMergeRejected},
	}
)

// classify turns a go-github error response into an APIError carrying the
// matching sentinel. Transport errors pass through unchanged.
func classify(err error, kinds ...statusKind) error {
	var resp *gh.ErrorResponse
	if !errors.As(err, &resp) || resp.Response == nil {
		return err
	}

	apiErr := &APIError{
		StatusCode: resp.Response.StatusCode,
		Message:    resp.Message,
		cause:      err,
	}
	if req := resp.Response.Request; req != nil {
		apiErr.Method = req.Method
		apiErr.Path = req.URL.Path
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(apiErr.StatusCode)
	}

	if apiErr.StatusCode == http.StatusNotFound {
		apiErr.kind = ErrNotFound
	}
	for _, k := range kinds {
		if k.status == apiErr.StatusCode {
			apiErr.kind = k.kind
		}
	}
	return apiErr
}
