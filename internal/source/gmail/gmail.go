// Package gmail fetches candidate messages from the Gmail REST API.
//
// The adapter owns the provider query language: it derives one combined
// search query from the watch registry and normalizes the results into
// IncomingMessage records. Token acquisition and refresh stay external;
// the client only consumes whatever a TokenSource hands it.
package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"inboxwatch/internal/errs"
	"inboxwatch/internal/model"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies a bearer token per request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed token.
type StaticToken string

// Token returns the fixed token, or an auth error when empty.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errs.New(errs.KindAuth, "gmail token not configured")
	}
	return string(t), nil
}

// Client fetches watched messages from Gmail.
type Client struct {
	http    HTTPClient
	tokens  TokenSource
	watches []model.Watch

	baseURL  string
	limit    int
	retryMax int
}

// New creates a Client querying on behalf of the given watches.
func New(hc HTTPClient, tokens TokenSource, watches []model.Watch, limit, retryMax int) *Client {
	return &Client{
		http:     hc,
		tokens:   tokens,
		watches:  watches,
		baseURL:  defaultBaseURL,
		limit:    limit,
		retryMax: retryMax,
	}
}

// Name identifies the source in logs and the ledger path.
func (c *Client) Name() string { return "gmail" }

// Fetch lists messages matching the combined registry query since the given
// time and resolves each to its metadata headers and snippet.
func (c *Client) Fetch(ctx context.Context, since time.Time) ([]model.IncomingMessage, error) {
	query, ok := BuildQuery(c.watches, since)
	if !ok {
		return nil, nil
	}

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	params := url.Values{"q": {query}, "maxResults": {strconv.Itoa(c.limit)}}
	if err := c.getJSON(ctx, "messages", params, &list); err != nil {
		return nil, err
	}

	var out []model.IncomingMessage
	for _, ref := range list.Messages {
		msg, err := c.getMessage(ctx, ref.ID)
		if err != nil {
			// An exhausted rate-limit retry aborts the whole fetch so the
			// cursor stays put and the message is retried next run.
			if errs.Fatal(err) || errs.IsKind(err, errs.KindTransient) {
				return nil, err
			}
			// One unreadable message is skipped, not fatal.
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// BuildQuery combines all watches into one Gmail search query: thread ids,
// cleaned sender patterns, and subject keywords, OR-joined and deduplicated,
// bounded below by the cursor. Reports false when no watch contributes a
// queryable field.
func BuildQuery(watches []model.Watch, since time.Time) (string, bool) {
	var parts []string
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}

	for _, w := range watches {
		switch {
		case w.ThreadID != "":
			add("thread:" + w.ThreadID)
		case len(w.FromPatterns) > 0:
			for _, p := range w.FromPatterns {
				if clean := strings.TrimSpace(strings.ReplaceAll(p, "*", "")); clean != "" {
					add("from:" + clean)
				}
			}
		case len(w.SubjectKeywords) > 0:
			for _, kw := range w.SubjectKeywords {
				add("subject:" + kw)
			}
		}
	}

	if len(parts) == 0 {
		return "", false
	}
	return fmt.Sprintf("(%s) after:%d in:inbox", strings.Join(parts, " OR "), since.Unix()), true
}

func (c *Client) getMessage(ctx context.Context, id string) (model.IncomingMessage, error) {
	var raw struct {
		ID           string `json:"id"`
		ThreadID     string `json:"threadId"`
		Snippet      string `json:"snippet"`
		InternalDate string `json:"internalDate"`
		Payload      struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	params := url.Values{
		"format":          {"metadata"},
		"metadataHeaders": {"From,To,Subject,Date"},
	}
	if err := c.getJSON(ctx, "messages/"+id, params, &raw); err != nil {
		return model.IncomingMessage{}, err
	}

	header := func(name string) string {
		for _, h := range raw.Payload.Headers {
			if strings.EqualFold(h.Name, name) {
				return h.Value
			}
		}
		return ""
	}

	msg := model.IncomingMessage{
		ID:          raw.ID,
		From:        header("From"),
		Subject:     header("Subject"),
		ThreadID:    raw.ThreadID,
		BodyPreview: raw.Snippet,
	}
	if ms, err := strconv.ParseInt(raw.InternalDate, 10, 64); err == nil {
		msg.ReceivedAt = time.UnixMilli(ms)
	}
	return msg, nil
}

// getJSON performs an authorized GET with bounded retry on provider rate
// limiting, honoring the Retry-After header.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	retryAfter := 5 * time.Second
	attempts := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		attempts++
		if attempts > c.retryMax {
			return 0, true
		}
		return retryAfter, false
	})

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		u := c.baseURL + "/" + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("http get %s: %w", path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if s := resp.Header.Get("Retry-After"); s != "" {
				if n, err := strconv.Atoi(s); err == nil {
					retryAfter = time.Duration(n) * time.Second
				}
			}
			return retry.RetryableError(errs.Newf(errs.KindTransient, "gmail rate limited on %s", path))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return errs.Newf(errs.KindAuth, "gmail rejected token on %s: status %d", path, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("gmail %s: unexpected status %d", path, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}
