package actor

import (
	"context"
	"sync"
	"time"
)

// Call is one recorded invocation against MockActor.
type Call struct {
	Method      string
	CommunityID uint64
	TargetID    uint64
	RoleID      uint64
	DeleteDays  int
	Until       time.Time
	Reason      string
}

// MockActor is an in-memory Actor for tests. It records every call it receives.
type MockActor struct {
	lk    sync.Mutex
	calls []Call

	// if set, the returned error becomes the result of the call
	Fail func(c Call) error
}

var _ Actor = (*MockActor)(nil)

func NewMockActor() *MockActor {
	return &MockActor{}
}

func (m *MockActor) record(c Call) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.calls = append(m.calls, c)
	if m.Fail != nil {
		return m.Fail(c)
	}
	return nil
}

func (m *MockActor) Calls() []Call {
	m.lk.Lock()
	defer m.lk.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockActor) CallsFor(method string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockActor) Ban(ctx context.Context, communityID, targetID uint64, deleteMessageDays int, reason string) error {
	c := Call{Method: "Ban", CommunityID: communityID, TargetID: targetID, DeleteDays: deleteMessageDays, Reason: reason}
	if err := ValidateDeleteDays(deleteMessageDays); err != nil {
		m.record(c)
		return err
	}
	return m.record(c)
}

func (m *MockActor) Unban(ctx context.Context, communityID, targetID uint64, reason string) error {
	return m.record(Call{Method: "Unban", CommunityID: communityID, TargetID: targetID, Reason: reason})
}

func (m *MockActor) Kick(ctx context.Context, communityID, targetID uint64, reason string) error {
	return m.record(Call{Method: "Kick", CommunityID: communityID, TargetID: targetID, Reason: reason})
}

func (m *MockActor) AddRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error {
	return m.record(Call{Method: "AddRole", CommunityID: communityID, TargetID: targetID, RoleID: roleID, Reason: reason})
}

func (m *MockActor) RemoveRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error {
	return m.record(Call{Method: "RemoveRole", CommunityID: communityID, TargetID: targetID, RoleID: roleID, Reason: reason})
}

func (m *MockActor) ApplyTimeout(ctx context.Context, communityID, targetID uint64, until time.Time, reason string) error {
	return m.record(Call{Method: "ApplyTimeout", CommunityID: communityID, TargetID: targetID, Until: until, Reason: reason})
}

func (m *MockActor) RemoveTimeout(ctx context.Context, communityID, targetID uint64, reason string) error {
	return m.record(Call{Method: "RemoveTimeout", CommunityID: communityID, TargetID: targetID, Reason: reason})
}

// MockDirectory resolves users from a fixed map.
type MockDirectory struct {
	Users map[uint64]User
}

var _ Directory = (*MockDirectory)(nil)

func NewMockDirectory(users ...User) *MockDirectory {
	d := &MockDirectory{Users: make(map[uint64]User, len(users))}
	for _, u := range users {
		d.Users[u.ID] = u
	}
	return d
}

func (d *MockDirectory) LookupUser(ctx context.Context, userID uint64) (*User, error) {
	u, ok := d.Users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

type SentMessage struct {
	UserID uint64
	Text   string
}

// MockMessenger records direct messages instead of sending them.
type MockMessenger struct {
	lk   sync.Mutex
	sent []SentMessage

	Err error
}

var _ Messenger = (*MockMessenger)(nil)

func (m *MockMessenger) DirectMessage(ctx context.Context, userID uint64, text string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{UserID: userID, Text: text})
	return nil
}

func (m *MockMessenger) Sent() []SentMessage {
	m.lk.Lock()
	defer m.lk.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
