package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/community"
	"github.com/sushiibot/modledger/modlog/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func u64Ptr(v uint64) *uint64 { return &v }
func strPtr(s string) *string { return &s }

type recordingNotifier struct {
	failures []error
}

func (n *recordingNotifier) AuditFailed(ctx context.Context, c *ledger.Case, channelID uint64, err error) error {
	n.failures = append(n.failures, err)
	return nil
}

func testReporter(t *testing.T) (*Reporter, *MemPoster, *recordingNotifier) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true, TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	l := ledger.New(db, nil)
	require.NoError(t, l.Migrate())

	withChannel := community.DefaultConfig(1)
	withChannel.AuditChannelID = u64Ptr(500)
	configs := community.NewStaticProvider(*withChannel)

	poster := NewMemPoster()
	notifier := &recordingNotifier{}
	r := &Reporter{
		Ledger:        l,
		Poster:        poster,
		Configs:       configs,
		Directory:     actor.NewMockDirectory(actor.User{ID: 42, Tag: "mod"}, actor.User{ID: 43, Tag: "othermod"}),
		Notifier:      notifier,
		BotName:       "sushii",
		CommandPrefix: "-",
	}
	return r, poster, notifier
}

func TestRender(t *testing.T) {
	assert := assert.New(t)

	c := &ledger.Case{CommunityID: 1, CaseID: 12, Action: ledger.ActionMute, TargetID: 9, TargetTag: "target"}
	m := Render(c, "mod (42)", "1 hour", "-")
	assert.Equal("Case #12", m.Footer)
	assert.Equal(0xe67e22, m.Color)
	v, ok := m.Line(LineDuration)
	assert.True(ok)
	assert.Equal("1 hour", v)
	v, _ = m.Line(LineReason)
	assert.Equal("Responsible moderator: Please use `-reason 12 [reason]` to set a reason for this case.", v)
	v, _ = m.Line(LineUser)
	assert.Equal("target (9)", v)
	assert.Equal(LineReason, m.Lines[len(m.Lines)-1].Name)

	c.Action = ledger.ActionKick
	c.Reason = strPtr("rude")
	m = Render(c, "mod (42)", "", "-")
	_, ok = m.Line(LineDuration)
	assert.False(ok)
	v, _ = m.Line(LineReason)
	assert.Equal("rude", v)
}

func TestReportPostsAndFinalizes(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	r, poster, _ := testReporter(t)

	c, err := r.Ledger.Reserve(ctx, ledger.Draft{CommunityID: 1, Action: ledger.ActionBan, TargetID: 9, TargetTag: "spammer", ExecutorID: u64Ptr(42)})
	require.NoError(err)

	ok, err := r.Report(ctx, c, "")
	require.NoError(err)
	assert.True(ok)
	require.NotNil(c.AuditMessageID)

	posted := poster.Posted()
	require.Len(posted, 1)
	pm := posted[*c.AuditMessageID]
	assert.Equal(uint64(500), pm.ChannelID)
	assert.Equal("mod (42)", pm.Message.Author)

	stored, err := r.Ledger.Get(ctx, 1, c.CaseID)
	require.NoError(err)
	assert.False(stored.Pending)
	assert.Equal(*c.AuditMessageID, *stored.AuditMessageID)

	// second report of the same case is a no-op for the ledger
	ok, err = r.Report(ctx, stored, "")
	require.NoError(err)
	assert.False(ok)
	assert.Len(poster.Posted(), 1)
}

func TestReportWithoutChannel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	r, poster, _ := testReporter(t)

	c, err := r.Ledger.Reserve(ctx, ledger.Draft{CommunityID: 2, Action: ledger.ActionWarn, TargetID: 9, TargetTag: "x"})
	require.NoError(err)
	ok, err := r.Report(ctx, c, "")
	require.NoError(err)
	assert.True(ok)
	assert.Nil(c.AuditMessageID)
	assert.Empty(poster.Posted())
}

func TestReportPostFailureStillFinalizes(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	r, poster, notifier := testReporter(t)
	poster.PostErr = errors.New("missing access")

	c, err := r.Ledger.Reserve(ctx, ledger.Draft{CommunityID: 1, Action: ledger.ActionKick, TargetID: 9, TargetTag: "x"})
	require.NoError(err)
	ok, err := r.Report(ctx, c, "")
	require.NoError(err)
	assert.True(ok)

	stored, err := r.Ledger.Get(ctx, 1, c.CaseID)
	require.NoError(err)
	assert.False(stored.Pending)
	assert.Nil(stored.AuditMessageID)
	require.Len(notifier.failures, 1)
	assert.EqualError(notifier.failures[0], "missing access")
}

func TestAmendReason(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	r, poster, _ := testReporter(t)

	var ids []uint64
	for i := 0; i < 2; i++ {
		c, err := r.Ledger.Reserve(ctx, ledger.Draft{CommunityID: 1, Action: ledger.ActionMute, TargetID: uint64(10 + i), TargetTag: "t", ExecutorID: u64Ptr(42)})
		require.NoError(err)
		_, err = r.Report(ctx, c, "1 hour")
		require.NoError(err)
		ids = append(ids, *c.AuditMessageID)
	}

	res, err := r.AmendReason(ctx, 1, 2, 1, 43, "raid cleanup")
	require.NoError(err)
	assert.Len(res.Cases, 2)
	assert.Equal(2, res.Edited)
	assert.Equal(0, res.Failed)

	posted := poster.Posted()
	for _, id := range ids {
		m := posted[id].Message
		assert.Equal("othermod (43)", m.Author)
		v, _ := m.Line(LineReason)
		assert.Equal("raid cleanup", v)
		// other lines keep their place
		v, _ = m.Line(LineDuration)
		assert.Equal("1 hour", v)
		assert.Equal(LineReason, m.Lines[len(m.Lines)-1].Name)
	}

	_, err = r.AmendReason(ctx, 1, 40, 41, 43, "none")
	assert.ErrorIs(err, ledger.ErrCaseNotFound)
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var got SlackWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal("application/json", req.Header.Get("Content-Type"))
		assert.NoError(json.NewDecoder(req.Body).Decode(&got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := &SlackNotifier{SlackWebhookURL: srv.URL}
	c := &ledger.Case{CommunityID: 1, CaseID: 3, Action: ledger.ActionBan, TargetID: 9}
	require.NoError(n.AuditFailed(context.Background(), c, 500, errors.New("unknown channel")))
	assert.Contains(got.Text, "`#3`")
	assert.Contains(got.Text, "unknown channel")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()
	n.SlackWebhookURL = bad.URL
	assert.Error(n.AuditFailed(context.Background(), c, 500, errors.New("x")))
}
