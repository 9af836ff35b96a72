package gatewayclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/audit"
)

// error strings returned by the sidecar
const (
	ErrStrPermissionDenied = "PermissionDenied"
	ErrStrValidation       = "ValidationError"
	ErrStrNotFound         = "NotFound"
)

// Gateway exposes the sidecar as the actor, directory, messenger and audit poster capabilities.
type Gateway struct {
	Client *Client
}

var (
	_ actor.Actor     = (*Gateway)(nil)
	_ actor.Directory = (*Gateway)(nil)
	_ actor.Messenger = (*Gateway)(nil)
	_ audit.Poster    = (*Gateway)(nil)
)

func New(host, token string, client *http.Client) *Gateway {
	return &Gateway{Client: &Client{Host: host, Token: token, Client: client}}
}

type memberAction struct {
	CommunityID       uint64     `json:"community_id,string"`
	TargetID          uint64     `json:"target_id,string"`
	RoleID            uint64     `json:"role_id,omitempty,string"`
	DeleteMessageDays int        `json:"delete_message_days,omitempty"`
	Until             *time.Time `json:"until,omitempty"`
	Reason            string     `json:"reason"`
}

func (g *Gateway) memberAction(ctx context.Context, method string, in *memberAction) error {
	return translate(g.Client.Do(ctx, Procedure, method, nil, in, nil))
}

func (g *Gateway) Ban(ctx context.Context, communityID, targetID uint64, deleteMessageDays int, reason string) error {
	if err := actor.ValidateDeleteDays(deleteMessageDays); err != nil {
		return err
	}
	return g.memberAction(ctx, "members.ban", &memberAction{CommunityID: communityID, TargetID: targetID, DeleteMessageDays: deleteMessageDays, Reason: reason})
}

func (g *Gateway) Unban(ctx context.Context, communityID, targetID uint64, reason string) error {
	return g.memberAction(ctx, "members.unban", &memberAction{CommunityID: communityID, TargetID: targetID, Reason: reason})
}

func (g *Gateway) Kick(ctx context.Context, communityID, targetID uint64, reason string) error {
	return g.memberAction(ctx, "members.kick", &memberAction{CommunityID: communityID, TargetID: targetID, Reason: reason})
}

func (g *Gateway) AddRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error {
	return g.memberAction(ctx, "members.addRole", &memberAction{CommunityID: communityID, TargetID: targetID, RoleID: roleID, Reason: reason})
}

func (g *Gateway) RemoveRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error {
	return g.memberAction(ctx, "members.removeRole", &memberAction{CommunityID: communityID, TargetID: targetID, RoleID: roleID, Reason: reason})
}

func (g *Gateway) ApplyTimeout(ctx context.Context, communityID, targetID uint64, until time.Time, reason string) error {
	until = until.UTC()
	return g.memberAction(ctx, "members.applyTimeout", &memberAction{CommunityID: communityID, TargetID: targetID, Until: &until, Reason: reason})
}

func (g *Gateway) RemoveTimeout(ctx context.Context, communityID, targetID uint64, reason string) error {
	return g.memberAction(ctx, "members.removeTimeout", &memberAction{CommunityID: communityID, TargetID: targetID, Reason: reason})
}

type userOutput struct {
	ID  uint64 `json:"id,string"`
	Tag string `json:"tag"`
}

func (g *Gateway) LookupUser(ctx context.Context, userID uint64) (*actor.User, error) {
	var out userOutput
	if err := g.Client.Do(ctx, Query, "users.get", map[string]any{"id": userID}, nil, &out); err != nil {
		return nil, translate(err)
	}
	return &actor.User{ID: out.ID, Tag: out.Tag}, nil
}

type directMessageInput struct {
	UserID uint64 `json:"user_id,string"`
	Text   string `json:"text"`
}

func (g *Gateway) DirectMessage(ctx context.Context, userID uint64, text string) error {
	return translate(g.Client.Do(ctx, Procedure, "users.sendDirectMessage", nil, &directMessageInput{UserID: userID, Text: text}, nil))
}

type messageInput struct {
	ChannelID uint64         `json:"channel_id,string"`
	MessageID uint64         `json:"message_id,omitempty,string"`
	Message   *audit.Message `json:"message"`
}

type messageOutput struct {
	MessageID uint64         `json:"message_id,string"`
	Message   *audit.Message `json:"message,omitempty"`
}

func (g *Gateway) PostMessage(ctx context.Context, channelID uint64, msg *audit.Message) (uint64, error) {
	var out messageOutput
	if err := g.Client.Do(ctx, Procedure, "channels.postMessage", nil, &messageInput{ChannelID: channelID, Message: msg}, &out); err != nil {
		return 0, translate(err)
	}
	return out.MessageID, nil
}

func (g *Gateway) GetMessage(ctx context.Context, channelID, messageID uint64) (*audit.Message, error) {
	var out messageOutput
	params := map[string]any{"channel_id": channelID, "message_id": messageID}
	if err := g.Client.Do(ctx, Query, "channels.getMessage", params, nil, &out); err != nil {
		return nil, translateMessage(err)
	}
	if out.Message == nil {
		return nil, audit.ErrMessageNotFound
	}
	return out.Message, nil
}

func (g *Gateway) EditMessage(ctx context.Context, channelID, messageID uint64, msg *audit.Message) error {
	in := &messageInput{ChannelID: channelID, MessageID: messageID, Message: msg}
	return translateMessage(g.Client.Do(ctx, Procedure, "channels.editMessage", nil, in, nil))
}

// translate maps a sidecar error onto the actor error taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var resp *Error
	if !errors.As(err, &resp) {
		// connection level failure
		return &actor.TransientError{Wrapped: err}
	}
	var ge *GatewayError
	if errors.As(resp, &ge) {
		switch ge.ErrStr {
		case ErrStrPermissionDenied:
			return &actor.PermissionError{Required: ge.RequiredPermissions}
		case ErrStrValidation:
			return &actor.ValidationError{Detail: ge.Message}
		case ErrStrNotFound:
			return fmt.Errorf("%w: %s", actor.ErrNotFound, ge.Message)
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", actor.ErrNotFound, resp)
	}
	return &actor.TransientError{Wrapped: resp}
}

func translateMessage(err error) error {
	err = translate(err)
	if errors.Is(err, actor.ErrNotFound) {
		return fmt.Errorf("%w: %s", audit.ErrMessageNotFound, err)
	}
	return err
}
