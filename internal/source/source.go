// Package source fetches the most recent posts of a public profile.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"

	"postwatch/pkg/logx"
)

var (
	// ErrRateLimited covers HTTP 429 and redirects to a login wall.
	ErrRateLimited        = errors.New("source: rate limited")
	ErrProfileNotFound    = errors.New("source: profile not found")
	ErrUnexpectedResponse = errors.New("source: unexpected response")
)

const postURLPrefix = "https://www.instagram.com/p/"

// Post is one observed post. Immutable once fetched.
type Post struct {
	Shortcode string
	Pinned    bool
	TakenAt   time.Time
	Caption   string
}

// URL returns the canonical public link to the post.
func (p Post) URL() string { return postURLPrefix + p.Shortcode + "/" }

// Fetcher returns up to limit posts for account, newest first. Pinned posts
// are returned in feed order with Pinned set.
type Fetcher interface {
	Recent(ctx context.Context, account string, limit int) ([]Post, error)
}

var reShortcode = regexp.MustCompile(`^[A-Za-z0-9_-]{5,64}$`)

func validShortcode(s string) bool { return reShortcode.MatchString(s) }

// Options configure New.
type Options struct {
	Kind       string // "instagram" | "html"
	BaseURL    string
	AppID      string
	Timeout    time.Duration
	RatePerMin int
	Log        logx.Logger
}

// New builds the fetcher for opts.Kind, paced by opts.RatePerMin.
func New(opts Options) (Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	hc := newHTTPClient(opts.Timeout)

	var f Fetcher
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", "instagram":
		f = &Instagram{BaseURL: opts.BaseURL, AppID: opts.AppID, HTTP: hc}
	case "html":
		if strings.TrimSpace(opts.BaseURL) == "" {
			return nil, fmt.Errorf("source: html kind requires base_url")
		}
		f = &HTMLPage{BaseURL: opts.BaseURL, HTTP: hc}
	default:
		return nil, fmt.Errorf("source: unknown kind %q", opts.Kind)
	}
	if opts.RatePerMin > 0 {
		f = Paced(f, opts.RatePerMin, opts.Log)
	}
	return f, nil
}

// newHTTPClient refuses redirects to login pages so they surface as errors.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if strings.Contains(req.URL.Path, "/accounts/login") || len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// classify maps transport and status errors onto the package sentinels.
func classify(account string, err error) error {
	switch {
	case err == nil:
		return nil
	case requests.HasStatusErr(err, http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusFound, http.StatusMovedPermanently, http.StatusSeeOther, http.StatusTemporaryRedirect):
		return fmt.Errorf("%w: %s: %v", ErrRateLimited, account, err)
	case requests.HasStatusErr(err, http.StatusNotFound):
		return fmt.Errorf("%w: %s", ErrProfileNotFound, account)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	var re *requests.ResponseError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedResponse, account, err)
	}
	return fmt.Errorf("fetch %s: %w", account, err)
}
