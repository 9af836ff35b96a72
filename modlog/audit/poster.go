package audit

import (
	"context"
	"errors"
	"sync"
)

var ErrMessageNotFound = errors.New("audit message not found")

// Poster posts and edits messages in a community channel.
type Poster interface {
	PostMessage(ctx context.Context, channelID uint64, msg *Message) (uint64, error)
	GetMessage(ctx context.Context, channelID, messageID uint64) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID uint64, msg *Message) error
}

type PostedMessage struct {
	ChannelID uint64
	Message   Message
}

// MemPoster keeps posted messages in memory, for tests and dry runs.
type MemPoster struct {
	lk       sync.Mutex
	nextID   uint64
	messages map[uint64]*PostedMessage

	// returned from PostMessage when set
	PostErr error
}

var _ Poster = (*MemPoster)(nil)

func NewMemPoster() *MemPoster {
	return &MemPoster{
		nextID:   1000,
		messages: make(map[uint64]*PostedMessage),
	}
}

func (p *MemPoster) PostMessage(ctx context.Context, channelID uint64, msg *Message) (uint64, error) {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.PostErr != nil {
		return 0, p.PostErr
	}
	p.nextID++
	p.messages[p.nextID] = &PostedMessage{ChannelID: channelID, Message: copyMessage(msg)}
	return p.nextID, nil
}

func (p *MemPoster) GetMessage(ctx context.Context, channelID, messageID uint64) (*Message, error) {
	p.lk.Lock()
	defer p.lk.Unlock()
	pm, ok := p.messages[messageID]
	if !ok || pm.ChannelID != channelID {
		return nil, ErrMessageNotFound
	}
	m := copyMessage(&pm.Message)
	return &m, nil
}

func (p *MemPoster) EditMessage(ctx context.Context, channelID, messageID uint64, msg *Message) error {
	p.lk.Lock()
	defer p.lk.Unlock()
	pm, ok := p.messages[messageID]
	if !ok || pm.ChannelID != channelID {
		return ErrMessageNotFound
	}
	pm.Message = copyMessage(msg)
	return nil
}

// Posted returns every message currently held, keyed by message identifier.
func (p *MemPoster) Posted() map[uint64]PostedMessage {
	p.lk.Lock()
	defer p.lk.Unlock()
	out := make(map[uint64]PostedMessage, len(p.messages))
	for id, pm := range p.messages {
		out[id] = PostedMessage{ChannelID: pm.ChannelID, Message: copyMessage(&pm.Message)}
	}
	return out
}

func copyMessage(m *Message) Message {
	out := *m
	out.Lines = append([]Line(nil), m.Lines...)
	return out
}
