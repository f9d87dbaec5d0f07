// Package slack fetches DMs, group DMs, private-channel messages, and
// mentions from the Slack Web API.
//
// The adapter resolves sender display names through a cache owned by the
// ledger, so name lookups are bounded across runs.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"inboxwatch/internal/errs"
	"inboxwatch/internal/ledger"
	"inboxwatch/internal/model"
)

const defaultBaseURL = "https://slack.com/api"

// conversation types scanned for new messages, each listed separately.
var conversationTypes = []string{"im", "private_channel", "mpim"}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches unread messages from Slack.
type Client struct {
	http  HTTPClient
	token string
	state *ledger.State

	baseURL  string
	retryMax int
	log      *slog.Logger
}

// New creates a Client. The ledger state supplies the authenticated user id
// and the display-name cache; the client updates both in place and the
// orchestrator persists them at run end.
func New(hc HTTPClient, token string, state *ledger.State, retryMax int, log *slog.Logger) *Client {
	if state.Names == nil {
		state.Names = make(map[string]string)
	}
	return &Client{
		http:     hc,
		token:    token,
		state:    state,
		baseURL:  defaultBaseURL,
		retryMax: retryMax,
		log:      log,
	}
}

// Name identifies the source in logs and the ledger path.
func (c *Client) Name() string { return "slack" }

// Fetch walks DM, group-DM, and private-channel conversations for messages
// newer than since, plus public-channel mentions via search. Results are
// sorted by timestamp.
func (c *Client) Fetch(ctx context.Context, since time.Time) ([]model.IncomingMessage, error) {
	if c.token == "" {
		return nil, errs.New(errs.KindAuth, "slack token not configured")
	}
	if err := c.ensureIdentity(ctx); err != nil {
		return nil, err
	}

	oldest := fmt.Sprintf("%d.000000", since.Unix())
	var found []model.IncomingMessage

	for _, convType := range conversationTypes {
		msgs, err := c.scanConversations(ctx, convType, oldest)
		if err != nil {
			return nil, err
		}
		found = append(found, msgs...)
	}

	// Public-channel mentions; search failure is non-fatal.
	mentions, err := c.searchMentions(ctx, since)
	if err != nil {
		c.log.Warn("mention search failed", "error", err)
	} else {
		have := map[string]bool{}
		for _, m := range found {
			have[m.ID] = true
		}
		for _, m := range mentions {
			if !have[m.ID] {
				found = append(found, m)
			}
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].ReceivedAt.Before(found[j].ReceivedAt)
	})
	return found, nil
}

// ensureIdentity resolves the authenticated user once and caches it in the
// ledger state for subsequent runs.
func (c *Client) ensureIdentity(ctx context.Context) error {
	if c.state.UserID != "" {
		return nil
	}
	var auth struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		UserID string `json:"user_id"`
		User   string `json:"user"`
	}
	if err := c.getJSON(ctx, "auth.test", nil, &auth); err != nil {
		return err
	}
	if !auth.OK {
		return errs.Newf(errs.KindAuth, "slack auth failed: %s", auth.Error)
	}
	c.state.UserID = auth.UserID
	c.state.UserName = auth.User
	return nil
}

type channelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	User        string `json:"user"`
	IsIM        bool   `json:"is_im"`
	IsMpim      bool   `json:"is_mpim"`
	UnreadCount int    `json:"unread_count"`
}

func (c *Client) scanConversations(ctx context.Context, convType, oldest string) ([]model.IncomingMessage, error) {
	var found []model.IncomingMessage
	cursor := ""

	for {
		params := url.Values{
			"types":            {convType},
			"exclude_archived": {"true"},
			"limit":            {"200"},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var list struct {
			OK               bool          `json:"ok"`
			Error            string        `json:"error"`
			Channels         []channelInfo `json:"channels"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.getJSON(ctx, "conversations.list", params, &list); err != nil {
			return nil, err
		}
		if !list.OK {
			c.log.Warn("conversations.list failed", "type", convType, "error", list.Error)
			return found, nil
		}

		for _, ch := range list.Channels {
			// Channels with no unreads need no history call.
			if ch.UnreadCount == 0 {
				continue
			}
			msgs, err := c.channelHistory(ctx, ch, oldest)
			if err != nil {
				if errs.Fatal(err) || errs.IsKind(err, errs.KindTransient) {
					return nil, err
				}
				c.log.Warn("history fetch failed", "channel", ch.ID, "error", err)
				continue
			}
			found = append(found, msgs...)
		}

		cursor = list.ResponseMetadata.NextCursor
		if cursor == "" {
			return found, nil
		}
	}
}

func (c *Client) channelHistory(ctx context.Context, ch channelInfo, oldest string) ([]model.IncomingMessage, error) {
	label := c.channelLabel(ctx, ch)

	var history struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Messages []struct {
			User    string `json:"user"`
			Text    string `json:"text"`
			TS      string `json:"ts"`
			Subtype string `json:"subtype"`
		} `json:"messages"`
	}
	params := url.Values{"channel": {ch.ID}, "oldest": {oldest}, "limit": {"20"}}
	if err := c.getJSON(ctx, "conversations.history", params, &history); err != nil {
		return nil, err
	}
	if !history.OK {
		return nil, fmt.Errorf("conversations.history %s: %s", ch.ID, history.Error)
	}

	mentionToken := "<@" + c.state.UserID + ">"
	var out []model.IncomingMessage
	for _, msg := range history.Messages {
		if msg.User == c.state.UserID || msg.Subtype != "" {
			continue
		}
		isMention := strings.Contains(msg.Text, mentionToken)
		if !ch.IsIM && !ch.IsMpim && !isMention {
			continue
		}
		out = append(out, model.IncomingMessage{
			ID:          msg.TS,
			From:        c.resolveUser(ctx, msg.User),
			BodyPreview: msg.Text,
			ReceivedAt:  tsTime(msg.TS),
			Channel:     label,
			Mention:     isMention,
		})
	}
	return out, nil
}

func (c *Client) searchMentions(ctx context.Context, since time.Time) ([]model.IncomingMessage, error) {
	var search struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Messages struct {
			Matches []struct {
				TS       string `json:"ts"`
				Text     string `json:"text"`
				Username string `json:"username"`
				Channel  struct {
					Name string `json:"name"`
				} `json:"channel"`
			} `json:"matches"`
		} `json:"messages"`
	}
	params := url.Values{
		"query":    {"<@" + c.state.UserID + ">"},
		"sort":     {"timestamp"},
		"sort_dir": {"desc"},
		"count":    {"20"},
	}
	if err := c.getJSON(ctx, "search.messages", params, &search); err != nil {
		return nil, err
	}
	if !search.OK {
		return nil, fmt.Errorf("search.messages: %s", search.Error)
	}

	var out []model.IncomingMessage
	for _, m := range search.Messages.Matches {
		at := tsTime(m.TS)
		if !at.After(since) {
			continue
		}
		out = append(out, model.IncomingMessage{
			ID:          m.TS,
			From:        m.Username,
			BodyPreview: m.Text,
			ReceivedAt:  at,
			Channel:     "#" + m.Channel.Name,
			Mention:     true,
		})
	}
	return out, nil
}

func (c *Client) channelLabel(ctx context.Context, ch channelInfo) string {
	switch {
	case ch.IsIM:
		other := ch.User
		if other == "" {
			other = ch.ID
		}
		return "DM: " + c.resolveUser(ctx, other)
	case ch.IsMpim:
		if ch.Name != "" {
			return "Group DM: " + ch.Name
		}
		return "Group DM: " + ch.ID
	default:
		if ch.Name != "" {
			return "#" + ch.Name
		}
		return "#" + ch.ID
	}
}

// resolveUser returns the human name for a user id, consulting the ledger
// cache first. Lookup failures cache the raw id so each id is fetched at
// most once.
func (c *Client) resolveUser(ctx context.Context, userID string) string {
	if userID == "" {
		return "unknown"
	}
	if name, ok := c.state.Names[userID]; ok {
		return name
	}

	var info struct {
		OK   bool `json:"ok"`
		User struct {
			Profile struct {
				DisplayName string `json:"display_name"`
				RealName    string `json:"real_name"`
			} `json:"profile"`
		} `json:"user"`
	}
	name := userID
	if err := c.getJSON(ctx, "users.info", url.Values{"user": {userID}}, &info); err == nil && info.OK {
		switch {
		case info.User.Profile.DisplayName != "":
			name = info.User.Profile.DisplayName
		case info.User.Profile.RealName != "":
			name = info.User.Profile.RealName
		}
	}
	c.state.Names[userID] = name
	return name
}

// getJSON performs an authorized GET with bounded retry on rate limiting,
// honoring the Retry-After header.
func (c *Client) getJSON(ctx context.Context, method string, params url.Values, out any) error {
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
		u := c.baseURL + "/" + method
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("http get %s: %w", method, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if s := resp.Header.Get("Retry-After"); s != "" {
				if n, err := strconv.Atoi(s); err == nil {
					retryAfter = time.Duration(n) * time.Second
				}
			}
			return retry.RetryableError(errs.Newf(errs.KindTransient, "slack rate limited on %s", method))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("slack %s: unexpected status %d", method, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		return nil
	})
}

// tsTime converts a Slack "seconds.micros" timestamp into a time.Time.
func tsTime(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}
