package community

import (
	"context"
	"testing"
	"time"

	"github.com/sushiibot/modledger/modlog/cachestore"
	"github.com/sushiibot/modledger/modlog/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func u64Ptr(v uint64) *uint64 { return &v }
func strPtr(s string) *string { return &s }

func TestConfigDefaults(t *testing.T) {
	assert := assert.New(t)

	c := DefaultConfig(9)
	_, ok := c.AuditChannel()
	assert.False(ok)
	assert.False(c.RoleMode())
	_, ok = c.DefaultMuteDuration()
	assert.False(ok)
	assert.Equal("Unknown Community (ID: 9)", c.DisplayName())

	c.AuditChannelID = u64Ptr(55)
	ch, ok := c.AuditChannel()
	assert.True(ok)
	assert.Equal(uint64(55), ch)
	c.AuditEnabled = false
	_, ok = c.AuditChannel()
	assert.False(ok)

	secs := int64(3600)
	c.MuteDefaultDuration = &secs
	d, ok := c.DefaultMuteDuration()
	assert.True(ok)
	assert.Equal(time.Hour, d)
}

func TestDirectMessage(t *testing.T) {
	assert := assert.New(t)

	c := DefaultConfig(1)
	c.Name = "Cafe"

	text, ok := c.DirectMessage(ledger.ActionMute, strPtr("spam"), "1 hour")
	assert.True(ok)
	assert.Equal("You have been muted in Cafe\nReason: spam\nDuration: 1 hour", text)

	text, ok = c.DirectMessage(ledger.ActionWarn, nil, "")
	assert.True(ok)
	assert.Equal("You have been warned in Cafe", text)

	c.WarnDMText = strPtr("Please read the rules.")
	text, _ = c.DirectMessage(ledger.ActionWarn, strPtr("caps"), "")
	assert.Equal("Please read the rules.\nReason: caps", text)

	_, ok = c.DirectMessage(ledger.ActionBan, nil, "")
	assert.False(ok)

	// custom mute text is only used for mutes
	c.MuteDMText = strPtr("You were muted for spamming. Appeal at example.org")
	text, _ = c.DirectMessage(ledger.ActionMute, nil, "2 hours")
	assert.Equal("You were muted for spamming. Appeal at example.org\nDuration: 2 hours", text)
	text, ok = c.DirectMessage(ledger.ActionUnmute, nil, "")
	assert.True(ok)
	assert.Equal("You have been unmuted in Cafe", text)

	c.MuteDMEnabled = false
	_, ok = c.DirectMessage(ledger.ActionUnmute, nil, "")
	assert.False(ok)
}

func TestGormSource(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(err)
	src := NewGormSource(db)
	require.NoError(src.Migrate())

	missing, err := src.GetConfig(ctx, 5)
	require.NoError(err)
	assert.True(missing.AuditEnabled)
	assert.Equal(uint64(5), missing.CommunityID)

	require.NoError(db.Create(&Config{CommunityID: 6, Name: "Six", MuteRoleID: u64Ptr(77), AuditEnabled: true, AuditChannelID: u64Ptr(8)}).Error)
	got, err := src.GetConfig(ctx, 6)
	require.NoError(err)
	assert.Equal("Six", got.Name)
	assert.True(got.RoleMode())
}

type countingProvider struct {
	inner Provider
	calls int
}

func (p *countingProvider) GetConfig(ctx context.Context, communityID uint64) (*Config, error) {
	p.calls++
	return p.inner.GetConfig(ctx, communityID)
}

func TestCachedProviderInvalidate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	static := NewStaticProvider(Config{CommunityID: 1, Name: "before", AuditEnabled: true})
	src := &countingProvider{inner: static}
	p := NewCachedProvider(src, cachestore.NewMemCacheStore(10, time.Minute), nil)

	c, err := p.GetConfig(ctx, 1)
	require.NoError(err)
	assert.Equal("before", c.Name)
	c, err = p.GetConfig(ctx, 1)
	require.NoError(err)
	assert.Equal("before", c.Name)
	assert.Equal(1, src.calls)

	// stale until invalidated
	static.Put(Config{CommunityID: 1, Name: "after", AuditEnabled: true})
	c, _ = p.GetConfig(ctx, 1)
	assert.Equal("before", c.Name)

	require.NoError(p.Invalidate(ctx, 1))
	c, err = p.GetConfig(ctx, 1)
	require.NoError(err)
	assert.Equal("after", c.Name)
	assert.Equal(2, src.calls)
}
