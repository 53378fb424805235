// CLAUDE:SUMMARY GitHub REST client — repo metadata and raw README with retry, rate-limit detection and token redaction
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DefaultAPIBase = "https://api.github.com"

var ErrNotFound = errors.New("repository not found")

// RateLimitError is returned when the API quota is exhausted.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit exceeded, resets at %s", e.Reset.Format(time.RFC3339))
}

type Owner struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	AvatarURL string `json:"avatar_url"`
}

type License struct {
	SPDXID string `json:"spdx_id"`
}

type Repo struct {
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description"`
	HTMLURL       string   `json:"html_url"`
	Language      string   `json:"language"`
	DefaultBranch string   `json:"default_branch"`
	UpdatedAt     string   `json:"updated_at"`
	Stars         int      `json:"stargazers_count"`
	Forks         int      `json:"forks_count"`
	Topics        []string `json:"topics"`
	License       *License `json:"license"`
	Owner         Owner    `json:"owner"`
}

func (r *Repo) LicenseID() string {
	if r.License == nil {
		return ""
	}
	return r.License.SPDXID
}

type Client struct {
	http  *http.Client
	base  string
	token string
	retry RetryConfig
	sleep func(context.Context, time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithRetry(cfg RetryConfig) Option { return func(c *Client) { c.retry = cfg } }

// WithSleep replaces the backoff wait.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// NewClient builds a client for base (DefaultAPIBase when empty). token may be empty.
func NewClient(base, token string, opts ...Option) *Client {
	if base == "" {
		base = DefaultAPIBase
	}
	c := &Client{
		http:  &http.Client{Timeout: 30 * time.Second},
		base:  strings.TrimRight(base, "/"),
		token: token,
		retry: DefaultRetryConfig(),
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var repoPathRe = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)
var repoURLRe = regexp.MustCompile(`github\.com[/:]([^/\s]+/[^/\s#?]+)`)

// ParseRepo accepts "owner/repo" or any github.com URL and returns "owner/repo".
func ParseRepo(s string) (string, error) {
	s = strings.TrimSpace(s)
	if m := repoURLRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")
	if !repoPathRe.MatchString(s) {
		return "", fmt.Errorf("invalid repo %q: use owner/repo or a GitHub URL", s)
	}
	return s, nil
}

// FetchRepo returns ErrNotFound for unknown repositories.
func (c *Client) FetchRepo(ctx context.Context, repo string) (*Repo, error) {
	body, err := c.get(ctx, "/repos/"+repo, "application/vnd.github.v3+json")
	if err != nil {
		return nil, err
	}
	var r Repo
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decoding repo %s: %w", repo, err)
	}
	return &r, nil
}

// FetchReadme returns the raw README, or "" when the repository has none.
func (c *Client) FetchReadme(ctx context.Context, repo string) (string, error) {
	body, err := c.get(ctx, "/repos/"+repo+"/readme", "application/vnd.github.v3.raw")
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) get(ctx context.Context, path, accept string) ([]byte, error) {
	return retryWithBackoff(ctx, c.retry, c.sleep, func() ([]byte, error) {
		return c.do(ctx, path, accept)
	}, path)
}

func (c *Client) do(ctx context.Context, path, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "agent-hub-importer/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(c.Redact(err.Error()))
	}
	defer resp.Body.Close()

	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if n, err := strconv.Atoi(remaining); err == nil && n < 10 {
		slog.Warn("github rate limit low", "remaining", n)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusForbidden && remaining == "0":
		reset, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
		return nil, &RateLimitError{Reset: time.Unix(reset, 0).UTC()}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return body, nil
}

var tokenRe = regexp.MustCompile(`(?i)(token|bearer)\s+\S+`)

// Redact strips the configured token and any "token xxx" / "Bearer xxx" pair from s.
func (c *Client) Redact(s string) string {
	if c.token != "" {
		s = strings.ReplaceAll(s, c.token, "[REDACTED]")
	}
	return tokenRe.ReplaceAllString(s, "$1 [REDACTED]")
}
