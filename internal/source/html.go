package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"golang.org/x/net/html"
)

// HTMLPage scrapes post links from a rendered profile page at
// <BaseURL>/<account>/. Any anchor pointing at /p/<shortcode>/ counts, in
// document order. A post is pinned when its anchor carries a "Pinned"
// label or title.
type HTMLPage struct {
	BaseURL string
	HTTP    *http.Client
}

func (h *HTMLPage) Recent(ctx context.Context, account string, limit int) ([]Post, error) {
	account = strings.TrimPrefix(strings.TrimSpace(account), "@")
	if account == "" {
		return nil, fmt.Errorf("%w: empty account", ErrProfileNotFound)
	}
	hc := h.HTTP
	if hc == nil {
		hc = newHTTPClient(20 * time.Second)
	}

	var body string
	err := requests.URL(strings.TrimRight(h.BaseURL, "/") + "/" + url.PathEscape(account) + "/").
		UserAgent(userAgent).
		Client(hc).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, classify(account, err)
	}
	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrUnexpectedResponse, err)
	}
	return extractPosts(doc, limit), nil
}

func extractPosts(doc *html.Node, limit int) []Post {
	var posts []Post
	seen := map[string]bool{}
	for _, a := range htmlquery.Find(doc, "//a[contains(@href, '/p/')]") {
		code := shortcodeFromHref(htmlquery.SelectAttr(a, "href"))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		posts = append(posts, Post{Shortcode: code, Pinned: isPinned(a)})
		if limit > 0 && len(posts) >= limit {
			break
		}
	}
	return posts
}

func shortcodeFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	_, rest, ok := strings.Cut(u.Path, "/p/")
	if !ok {
		return ""
	}
	code, _, _ := strings.Cut(rest, "/")
	if !validShortcode(code) {
		return ""
	}
	return code
}

func isPinned(a *html.Node) bool {
	return htmlquery.FindOne(a, "descendant-or-self::*[contains(@aria-label, 'Pinned') or contains(@title, 'Pinned')]") != nil
}
