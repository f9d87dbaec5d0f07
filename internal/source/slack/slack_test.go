package slack

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/h2non/gock"

	"inboxwatch/internal/errs"
	"inboxwatch/internal/ledger"
)

func testClient(state *ledger.State) *Client {
	hc := &http.Client{}
	gock.InterceptClient(hc)
	return New(hc, "xoxp-test", state, 3, slog.Default())
}

func emptyList() map[string]any {
	return map[string]any{"ok": true, "channels": []any{}}
}

func TestEnsureIdentity(t *testing.T) {
	defer gock.Off()

	gock.New("https://slack.com").
		Get("/api/auth.test").
		Reply(200).
		JSON(map[string]any{"ok": true, "user_id": "U0", "user": "me"})

	st := &ledger.State{Names: map[string]string{}}
	c := testClient(st)
	if err := c.ensureIdentity(context.Background()); err != nil {
		t.Fatalf("ensure identity: %v", err)
	}
	if st.UserID != "U0" || st.UserName != "me" {
		t.Errorf("identity not cached: %+v", st)
	}

	// Cached identity makes no further calls.
	if err := c.ensureIdentity(context.Background()); err != nil {
		t.Fatalf("cached identity: %v", err)
	}
}

func TestEnsureIdentityAuthFailure(t *testing.T) {
	defer gock.Off()

	gock.New("https://slack.com").
		Get("/api/auth.test").
		Reply(200).
		JSON(map[string]any{"ok": false, "error": "invalid_auth"})

	c := testClient(&ledger.State{Names: map[string]string{}})
	err := c.ensureIdentity(context.Background())
	if !errs.IsKind(err, errs.KindAuth) {
		t.Errorf("expected auth error, got %v", err)
	}
}

func TestFetch(t *testing.T) {
	defer gock.Off()

	gock.New("https://slack.com").
		Get("/api/conversations.list").
		MatchParam("types", "^im$").
		Reply(200).
		JSON(map[string]any{
			"ok": true,
			"channels": []map[string]any{
				{"id": "D1", "is_im": true, "user": "U1", "unread_count": 2},
				{"id": "D2", "is_im": true, "user": "U9", "unread_count": 0},
			},
		})
	gock.New("https://slack.com").
		Get("/api/conversations.list").
		MatchParam("types", "^private_channel$").
		Reply(200).
		JSON(emptyList())
	gock.New("https://slack.com").
		Get("/api/conversations.list").
		MatchParam("types", "^mpim$").
		Reply(200).
		JSON(emptyList())

	gock.New("https://slack.com").
		Get("/api/conversations.history").
		MatchParam("channel", "^D1$").
		Reply(200).
		JSON(map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"user": "U1", "text": "my vpn isn't working", "ts": "1724831200.000100"},
				{"user": "U0", "text": "own message", "ts": "1724831300.000100"},
				{"user": "U1", "text": "joined", "ts": "1724831400.000100", "subtype": "channel_join"},
			},
		})

	gock.New("https://slack.com").
		Get("/api/users.info").
		MatchParam("user", "^U1$").
		Reply(200).
		JSON(map[string]any{
			"ok":   true,
			"user": map[string]any{"profile": map[string]any{"display_name": "Grace"}},
		})

	gock.New("https://slack.com").
		Get("/api/search.messages").
		Reply(200).
		JSON(map[string]any{
			"ok": true,
			"messages": map[string]any{
				"matches": []map[string]any{
					{
						"ts": "1724831500.000100", "text": "<@U0> can you look",
						"username": "ada", "channel": map[string]any{"name": "general"},
					},
					{
						"ts": "1000.000000", "text": "old mention",
						"username": "ada", "channel": map[string]any{"name": "general"},
					},
				},
			},
		})

	st := &ledger.State{UserID: "U0", Names: map[string]string{}}
	c := testClient(st)

	got, err := c.Fetch(context.Background(), time.Unix(1724831000, 0))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	want := []string{"1724831200.000100", "1724831500.000100"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("message ids mismatch (-want +got):\n%s", diff)
	}

	dm := got[0]
	if dm.From != "Grace" || dm.Channel != "DM: Grace" || dm.Mention {
		t.Errorf("unexpected dm: %+v", dm)
	}
	mention := got[1]
	if !mention.Mention || mention.Channel != "#general" || mention.From != "ada" {
		t.Errorf("unexpected mention: %+v", mention)
	}

	if st.Names["U1"] != "Grace" {
		t.Error("resolved name must enter the ledger cache")
	}
}

func TestFetchSearchFailureNonFatal(t *testing.T) {
	defer gock.Off()

	for _, typ := range []string{"^im$", "^private_channel$", "^mpim$"} {
		gock.New("https://slack.com").
			Get("/api/conversations.list").
			MatchParam("types", typ).
			Reply(200).
			JSON(emptyList())
	}
	gock.New("https://slack.com").
		Get("/api/search.messages").
		Reply(200).
		JSON(map[string]any{"ok": false, "error": "not_allowed_token_type"})

	c := testClient(&ledger.State{UserID: "U0", Names: map[string]string{}})
	got, err := c.Fetch(context.Background(), time.Unix(1724831000, 0))
	if err != nil {
		t.Fatalf("search failure must be non-fatal: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no messages, got %d", len(got))
	}
}

func TestFetchRateLimitedThenOK(t *testing.T) {
	defer gock.Off()

	gock.New("https://slack.com").
		Get("/api/auth.test").
		Reply(429).
		SetHeader("Retry-After", "0")
	gock.New("https://slack.com").
		Get("/api/auth.test").
		Reply(200).
		JSON(map[string]any{"ok": true, "user_id": "U0", "user": "me"})

	c := testClient(&ledger.State{Names: map[string]string{}})
	if err := c.ensureIdentity(context.Background()); err != nil {
		t.Fatalf("identity after rate limit: %v", err)
	}
}

func TestFetchMissingToken(t *testing.T) {
	c := New(&http.Client{}, "", &ledger.State{}, 3, slog.Default())
	_, err := c.Fetch(context.Background(), time.Now())
	if !errs.IsKind(err, errs.KindAuth) {
		t.Errorf("expected auth error, got %v", err)
	}
}

func TestResolveUserCaches(t *testing.T) {
	defer gock.Off()

	gock.New("https://slack.com").
		Get("/api/users.info").
		Reply(200).
		JSON(map[string]any{
			"ok":   true,
			"user": map[string]any{"profile": map[string]any{"real_name": "Ada Lovelace"}},
		})

	st := &ledger.State{Names: map[string]string{}}
	c := testClient(st)

	if got := c.resolveUser(context.Background(), "U2"); got != "Ada Lovelace" {
		t.Errorf("resolveUser = %q", got)
	}
	// Second lookup served from cache; no mock remains.
	if got := c.resolveUser(context.Background(), "U2"); got != "Ada Lovelace" {
		t.Errorf("cached resolveUser = %q", got)
	}
}

func TestTsTime(t *testing.T) {
	got := tsTime("1724831200.000100")
	if got.Unix() != 1724831200 {
		t.Errorf("tsTime seconds = %d", got.Unix())
	}
	if !tsTime("garbage").IsZero() {
		t.Error("bad timestamp must be zero time")
	}
}
