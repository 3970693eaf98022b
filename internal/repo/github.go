package repo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound reports that a path did not resolve to a file. It is kept
// distinct from transport failure so the orchestrator can fold it into the
// conversation instead of aborting the turn.
var ErrNotFound = errors.New("repository path not found")

// Connection identifies a repository and the credential to reach it. It is
// held in memory for the session's lifetime only.
type Connection struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Token  string `json:"token"`
	Branch string `json:"branch,omitempty"`
}

// Client talks to the GitHub REST API for a single connection. No operation
// retries; a failed call surfaces to the caller.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	conn       Connection

	defaultBranch string
}

func NewClient(conn Connection) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		BaseURL:    "https://api.github.com",
		conn:       conn,
	}
}

type repoInfo struct {
	DefaultBranch string `json:"default_branch"`
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type treeResponse struct {
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type pullResponse struct {
	HTMLURL string `json:"html_url"`
}

// ValidateAccess performs a lightweight read to confirm the credential can
// reach the repository. It also records the default branch for later calls.
func (c *Client) ValidateAccess(ctx context.Context) error {
	var info repoInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", c.conn.Owner, c.conn.Repo), nil, &info); err != nil {
		return fmt.Errorf("github: validate access: %w", err)
	}
	c.defaultBranch = info.DefaultBranch
	return nil
}

// ListFiles enumerates every file path in the repository tree recursively.
func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	branch, err := c.branch(ctx)
	if err != nil {
		return nil, err
	}
	var tr treeResponse
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", c.conn.Owner, c.conn.Repo, url.PathEscape(branch))
	if err := c.do(ctx, http.MethodGet, path, nil, &tr); err != nil {
		return nil, fmt.Errorf("github: list tree: %w", err)
	}
	var files []string
	for _, e := range tr.Tree {
		if e.Type == "blob" {
			files = append(files, e.Path)
		}
	}
	return files, nil
}

// ReadFile fetches the decoded content of one file. A missing path returns
// ErrNotFound.
func (c *Client) ReadFile(ctx context.Context, filePath string) (string, error) {
	content, _, err := c.contents(ctx, filePath, "")
	return content, err
}

func (c *Client) contents(ctx context.Context, filePath, ref string) (string, string, error) {
	p := fmt.Sprintf("/repos/%s/%s/contents/%s", c.conn.Owner, c.conn.Repo, escapePath(filePath))
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	var cr contentsResponse
	if err := c.do(ctx, http.MethodGet, p, nil, &cr); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, filePath)
		}
		return "", "", fmt.Errorf("github: read %s: %w", filePath, err)
	}
	if cr.Encoding != "base64" {
		return "", "", fmt.Errorf("github: read %s: unexpected encoding %q", filePath, cr.Encoding)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(cr.Content, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("github: decode %s: %w", filePath, err)
	}
	return string(raw), cr.SHA, nil
}

// CreateChange writes content to a fresh branch and opens a pull request for
// review, returning the pull request URL. The sequence is: resolve base HEAD,
// create a work branch ref, put the file (carrying its blob SHA on update),
// open the pull request.
func (c *Client) CreateChange(ctx context.Context, filePath, content, description string) (string, error) {
	base, err := c.branch(ctx)
	if err != nil {
		return "", err
	}

	var head refResponse
	refPath := fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", c.conn.Owner, c.conn.Repo, url.PathEscape(base))
	if err := c.do(ctx, http.MethodGet, refPath, nil, &head); err != nil {
		return "", fmt.Errorf("github: resolve %s: %w", base, err)
	}

	work := fmt.Sprintf("pair-ai/change-%d", time.Now().UnixMilli())
	createRef := map[string]string{"ref": "refs/heads/" + work, "sha": head.Object.SHA}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", c.conn.Owner, c.conn.Repo), createRef, nil); err != nil {
		return "", fmt.Errorf("github: create branch %s: %w", work, err)
	}

	put := map[string]string{
		"message": description,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  work,
	}
	// Updating an existing file requires its current blob SHA.
	if _, sha, err := c.contents(ctx, filePath, work); err == nil {
		put["sha"] = sha
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	putPath := fmt.Sprintf("/repos/%s/%s/contents/%s", c.conn.Owner, c.conn.Repo, escapePath(filePath))
	if err := c.do(ctx, http.MethodPut, putPath, put, nil); err != nil {
		return "", fmt.Errorf("github: write %s: %w", filePath, err)
	}

	pull := map[string]string{
		"title": description,
		"head":  work,
		"base":  base,
		"body":  "Change proposed during a pair.ai session.",
	}
	var pr pullResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", c.conn.Owner, c.conn.Repo), pull, &pr); err != nil {
		return "", fmt.Errorf("github: open pull request: %w", err)
	}
	return pr.HTMLURL, nil
}

func (c *Client) branch(ctx context.Context) (string, error) {
	if c.conn.Branch != "" {
		return c.conn.Branch, nil
	}
	if c.defaultBranch == "" {
		if err := c.ValidateAccess(ctx); err != nil {
			return "", err
		}
	}
	if c.defaultBranch == "" {
		return "main", nil
	}
	return c.defaultBranch, nil
}

var errStatusNotFound = errors.New("status 404")

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.conn.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errStatusNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}

// escapePath escapes each path segment, preserving the separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
