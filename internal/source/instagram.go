package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

const (
	defaultInstagramBase = "https://i.instagram.com"
	// Public web app id sent by instagram.com itself.
	defaultAppID = "936619743392459"
	userAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Instagram reads the public web profile endpoint.
type Instagram struct {
	BaseURL string
	AppID   string
	HTTP    *http.Client
}

type profileResponse struct {
	Status string `json:"status"`
	Data   struct {
		User *struct {
			Timeline struct {
				Edges []struct {
					Node mediaNode `json:"node"`
				} `json:"edges"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

type mediaNode struct {
	Shortcode      string  `json:"shortcode"`
	TakenAt        int64   `json:"taken_at_timestamp"`
	PinnedForUsers []any   `json:"pinned_for_users"`
	Caption        edgeSet `json:"edge_media_to_caption"`
}

type edgeSet struct {
	Edges []struct {
		Node struct {
			Text string `json:"text"`
		} `json:"node"`
	} `json:"edges"`
}

func (n mediaNode) post() Post {
	p := Post{
		Shortcode: n.Shortcode,
		Pinned:    len(n.PinnedForUsers) > 0,
	}
	if n.TakenAt > 0 {
		p.TakenAt = time.Unix(n.TakenAt, 0).UTC()
	}
	if len(n.Caption.Edges) > 0 {
		p.Caption = n.Caption.Edges[0].Node.Text
	}
	return p
}

func (c *Instagram) Recent(ctx context.Context, account string, limit int) ([]Post, error) {
	account = strings.TrimPrefix(strings.TrimSpace(account), "@")
	if account == "" {
		return nil, fmt.Errorf("%w: empty account", ErrProfileNotFound)
	}
	base := c.BaseURL
	if base == "" {
		base = defaultInstagramBase
	}
	appID := c.AppID
	if appID == "" {
		appID = defaultAppID
	}
	hc := c.HTTP
	if hc == nil {
		hc = newHTTPClient(20 * time.Second)
	}

	var resp profileResponse
	err := requests.URL(base).
		Path("/api/v1/users/web_profile_info/").
		Param("username", account).
		Header("x-ig-app-id", appID).
		UserAgent(userAgent).
		Accept("application/json").
		Client(hc).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return nil, classify(account, err)
	}
	if resp.Data.User == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, account)
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, fmt.Errorf("%w: status %q", ErrUnexpectedResponse, resp.Status)
	}

	posts := make([]Post, 0, limit)
	for _, e := range resp.Data.User.Timeline.Edges {
		if limit > 0 && len(posts) >= limit {
			break
		}
		if !validShortcode(e.Node.Shortcode) {
			continue
		}
		posts = append(posts, e.Node.post())
	}
	return posts, nil
}
