package gatewayclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
	Query  map[string]string
}

type recorder struct {
	lk   sync.Mutex
	reqs []recorded
}

func (r *recorder) all() []recorded {
	r.lk.Lock()
	defer r.lk.Unlock()
	return append([]recorded(nil), r.reqs...)
}

func testGateway(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Gateway, *recorder) {
	reqs := &recorder{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Query: map[string]string{}}
		for k := range r.URL.Query() {
			rec.Query[k] = r.URL.Query().Get(k)
		}
		if r.Body != nil && r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		reqs.lk.Lock()
		reqs.reqs = append(reqs.reqs, rec)
		reqs.lk.Unlock()
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return New(ts.URL, "sekret", ts.Client()), reqs
}

func writeError(w http.ResponseWriter, status int, ge GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ge)
}

func TestMemberActions(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	g, reqs := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	})

	require.NoError(g.Ban(ctx, 1, 2, 3, "[Ban by mod (ID: 9)] spam"))
	until := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(g.ApplyTimeout(ctx, 1, 2, until, "quiet"))
	require.NoError(g.RemoveRole(ctx, 1, 2, 900, "expired"))

	all := reqs.all()
	require.Len(all, 3)
	ban := all[0]
	assert.Equal(http.MethodPost, ban.Method)
	assert.Equal("/v1/members.ban", ban.Path)
	assert.Equal("Bearer sekret", ban.Auth)
	assert.Equal("1", ban.Body["community_id"])
	assert.Equal("2", ban.Body["target_id"])
	assert.Equal(float64(3), ban.Body["delete_message_days"])
	assert.Equal("[Ban by mod (ID: 9)] spam", ban.Body["reason"])

	assert.Equal("2024-05-01T13:00:00Z", all[1].Body["until"])
	assert.Equal("900", all[2].Body["role_id"])

	// rejected locally, never sent
	err := g.Ban(ctx, 1, 2, 9, "")
	assert.Equal(actor.Rejected, actor.Classify(err))
	assert.Len(reqs.all(), 3)
}

func TestErrorTranslation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var lk sync.Mutex
	status := http.StatusOK
	var body GatewayError
	respond := func(s int, b GatewayError) {
		lk.Lock()
		defer lk.Unlock()
		status, body = s, b
	}
	g, _ := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		lk.Lock()
		defer lk.Unlock()
		writeError(w, status, body)
	})

	respond(http.StatusForbidden, GatewayError{ErrStr: ErrStrPermissionDenied, Message: "missing", RequiredPermissions: []string{"BAN_MEMBERS"}})
	err := g.Kick(ctx, 1, 2, "")
	var permErr *actor.PermissionError
	assert.True(errors.As(err, &permErr))
	assert.Equal([]string{"BAN_MEMBERS"}, permErr.Required)
	assert.Equal(actor.Rejected, actor.Classify(err))

	respond(http.StatusBadRequest, GatewayError{ErrStr: ErrStrValidation, Message: "bad reason"})
	err = g.Kick(ctx, 1, 2, "")
	assert.Equal(actor.Rejected, actor.Classify(err))
	assert.Equal("bad reason", err.Error())

	respond(http.StatusNotFound, GatewayError{ErrStr: ErrStrNotFound, Message: "Unknown Member"})
	err = g.RemoveTimeout(ctx, 1, 2, "")
	assert.ErrorIs(err, actor.ErrNotFound)

	respond(http.StatusTooManyRequests, GatewayError{ErrStr: "RateLimited", Message: "slow down"})
	err = g.RemoveTimeout(ctx, 1, 2, "")
	assert.Equal(actor.Transient, actor.Classify(err))
	var resp *Error
	assert.True(errors.As(err, &resp))
	assert.True(resp.IsThrottled())

	respond(http.StatusBadGateway, GatewayError{ErrStr: "Upstream", Message: "platform unavailable"})
	err = g.RemoveTimeout(ctx, 1, 2, "")
	assert.Equal(actor.Transient, actor.Classify(err))

	_, err = g.GetMessage(ctx, 5, 6)
	assert.False(errors.Is(err, audit.ErrMessageNotFound))
	respond(http.StatusNotFound, GatewayError{ErrStr: ErrStrNotFound, Message: "Unknown Message"})
	_, err = g.GetMessage(ctx, 5, 6)
	assert.ErrorIs(err, audit.ErrMessageNotFound)
}

func TestConnectionFailureIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host := ts.URL
	ts.Close()

	g := New(host, "", &http.Client{Timeout: time.Second})
	err := g.Unban(context.Background(), 1, 2, "")
	assert.Equal(t, actor.Transient, actor.Classify(err))
}

func TestDirectoryAndMessages(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	g, reqs := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/users.get":
			if r.URL.Query().Get("id") != "42" {
				writeError(w, http.StatusNotFound, GatewayError{ErrStr: ErrStrNotFound, Message: "Unknown User"})
				return
			}
			w.Write([]byte(`{"id":"42","tag":"alice#0001"}`))
		case "/v1/channels.postMessage":
			w.Write([]byte(`{"message_id":"777"}`))
		case "/v1/channels.getMessage":
			w.Write([]byte(`{"message_id":"777","message":{"author":"mod","lines":[{"name":"Reason","value":"spam"}],"footer":"Case #3","color":15158332}}`))
		default:
			w.Write([]byte(`{}`))
		}
	})

	u, err := g.LookupUser(ctx, 42)
	require.NoError(err)
	assert.Equal(uint64(42), u.ID)
	assert.Equal("alice#0001", u.Tag)

	_, err = g.LookupUser(ctx, 43)
	assert.ErrorIs(err, actor.ErrNotFound)

	require.NoError(g.DirectMessage(ctx, 42, "You have been muted in Cafe"))

	msgID, err := g.PostMessage(ctx, 5, &audit.Message{Author: "mod", Footer: "Case #3"})
	require.NoError(err)
	assert.Equal(uint64(777), msgID)

	msg, err := g.GetMessage(ctx, 5, 777)
	require.NoError(err)
	reason, ok := msg.Line(audit.LineReason)
	assert.True(ok)
	assert.Equal("spam", reason)
	assert.Equal("Case #3", msg.Footer)

	all := reqs.all()
	var paths []string
	for _, r := range all {
		paths = append(paths, r.Path)
	}
	assert.Equal([]string{"/v1/users.get", "/v1/users.get", "/v1/users.sendDirectMessage", "/v1/channels.postMessage", "/v1/channels.getMessage"}, paths)
	assert.Equal("42", all[2].Body["user_id"])
	assert.Equal("5", all[4].Query["channel_id"])
}
