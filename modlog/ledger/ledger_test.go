package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testLedger(t *testing.T) *Ledger {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true, TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to ":memory:" is a separate database
	sqlDB.SetMaxOpenConns(1)

	l := New(db, nil)
	require.NoError(t, l.Migrate())
	return l
}

func strPtr(s string) *string { return &s }
func u64Ptr(v uint64) *uint64 { return &v }

func TestReserveSequential(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := testLedger(t)

	for i := int64(1); i <= 3; i++ {
		c, err := l.Reserve(ctx, Draft{CommunityID: 100, Action: ActionWarn, TargetID: 7, TargetTag: "someone"})
		require.NoError(t, err)
		assert.Equal(i, c.CaseID)
		assert.True(c.Pending)
	}

	// numbering is independent per community
	other, err := l.Reserve(ctx, Draft{CommunityID: 200, Action: ActionKick, TargetID: 7, TargetTag: "someone"})
	require.NoError(t, err)
	assert.Equal(int64(1), other.CaseID)

	_, err = l.Reserve(ctx, Draft{CommunityID: 100, Action: Action("explode"), TargetID: 7})
	assert.Error(err)
}

func TestReserveConcurrentDistinct(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)

	const n = 20
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(target uint64) {
			defer wg.Done()
			c, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionBan, TargetID: target, TargetTag: "t"})
			if !assert.NoError(t, err) {
				return
			}
			ids <- c.CaseID
		}(uint64(i))
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate case number %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing case number %d", i)
	}
}

func TestFinalizeOnce(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	l := testLedger(t)

	c, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionBan, TargetID: 9, TargetTag: "spammer", ExecutorID: u64Ptr(3), Reason: strPtr("spam")})
	require.NoError(err)

	ok, err := l.Finalize(ctx, c, u64Ptr(5555))
	require.NoError(err)
	assert.True(ok)
	assert.False(c.Pending)

	// second writer loses
	again := &Case{CommunityID: 1, CaseID: c.CaseID}
	ok, err = l.Finalize(ctx, again, nil)
	require.NoError(err)
	assert.False(ok)

	stored, err := l.Get(ctx, 1, c.CaseID)
	require.NoError(err)
	assert.False(stored.Pending)
	require.NotNil(stored.AuditMessageID)
	assert.Equal(uint64(5555), *stored.AuditMessageID)
	assert.Equal("spam", stored.ReasonOr(""))

	_, err = l.Finalize(ctx, &Case{CommunityID: 1, CaseID: 99}, nil)
	assert.ErrorIs(err, ErrCaseNotFound)
}

func TestRollback(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	l := testLedger(t)

	first, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionKick, TargetID: 1, TargetTag: "a"})
	require.NoError(err)
	_, err = l.Finalize(ctx, first, nil)
	require.NoError(err)

	second, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionKick, TargetID: 2, TargetTag: "b"})
	require.NoError(err)
	require.NoError(l.Rollback(ctx, second))

	_, err = l.Get(ctx, 1, second.CaseID)
	assert.ErrorIs(err, ErrCaseNotFound)

	// finalized rows are never removed by a rollback
	require.NoError(l.Rollback(ctx, first))
	_, err = l.Get(ctx, 1, first.CaseID)
	assert.NoError(err)

	// the freed number is reused since it was never observable as finalized
	third, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionKick, TargetID: 3, TargetTag: "c"})
	require.NoError(err)
	assert.Equal(int64(2), third.CaseID)
}

func TestFindPending(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	l := testLedger(t)

	none, err := l.FindPending(ctx, 1, 5, ActionMute)
	require.NoError(err)
	assert.Nil(none)

	c, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionMute, TargetID: 5, TargetTag: "x"})
	require.NoError(err)

	found, err := l.FindPending(ctx, 1, 5, ActionMute)
	require.NoError(err)
	require.NotNil(found)
	assert.Equal(c.CaseID, found.CaseID)

	_, err = l.Finalize(ctx, c, nil)
	require.NoError(err)
	found, err = l.FindPending(ctx, 1, 5, ActionMute)
	require.NoError(err)
	assert.Nil(found)
}

func TestReadPaths(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	l := testLedger(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		target := uint64(10)
		if i%2 == 1 {
			target = 20
		}
		c, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionWarn, TargetID: target, TargetTag: "t", ActionTime: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(err)
		_, err = l.Finalize(ctx, c, nil)
		require.NoError(err)
	}

	cases, err := l.Range(ctx, 1, 4, 2)
	require.NoError(err)
	require.Len(cases, 3)
	assert.Equal(int64(2), cases[0].CaseID)
	assert.Equal(int64(4), cases[2].CaseID)
	assert.True(cases[0].ActionTime.Equal(base.Add(time.Minute)))

	latest, err := l.Latest(ctx, 1, 2)
	require.NoError(err)
	require.Len(latest, 2)
	assert.Equal(int64(5), latest[0].CaseID)
	assert.Equal(int64(4), latest[1].CaseID)

	history, err := l.ForTarget(ctx, 1, 20)
	require.NoError(err)
	require.Len(history, 2)
	assert.Equal(int64(2), history[0].CaseID)
	assert.Equal(int64(4), history[1].CaseID)

	empty, err := l.Range(ctx, 2, 1, 10)
	require.NoError(err)
	assert.Empty(empty)
}

func TestAmendReason(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	l := testLedger(t)

	for i := 0; i < 3; i++ {
		_, err := l.Reserve(ctx, Draft{CommunityID: 1, Action: ActionBan, TargetID: uint64(i), TargetTag: "t"})
		require.NoError(err)
	}

	updated, err := l.AmendReason(ctx, 1, 3, 2, u64Ptr(42), "raid")
	require.NoError(err)
	require.Len(updated, 2)
	for _, c := range updated {
		assert.Equal("raid", c.ReasonOr(""))
		require.NotNil(c.ExecutorID)
		assert.Equal(uint64(42), *c.ExecutorID)
	}

	untouched, err := l.Get(ctx, 1, 1)
	require.NoError(err)
	assert.Nil(untouched.Reason)

	_, err = l.AmendReason(ctx, 1, 50, 60, nil, "nothing")
	assert.ErrorIs(err, ErrCaseNotFound)
}

func TestActionTable(t *testing.T) {
	assert := assert.New(t)

	a, err := ParseAction("mute")
	assert.NoError(err)
	assert.Equal(ActionMute, a)
	assert.Equal("muted", a.PastTense())
	assert.Equal(0xe67e22, a.Color())
	assert.True(a.HasEffect())

	assert.Equal("add note to", ActionNote.PresentTense())
	assert.False(ActionWarn.HasEffect())

	_, err = ParseAction("softban")
	assert.Error(err)
	assert.Equal(":question:", Action("softban").Emoji())
}
