package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/community"
	"github.com/sushiibot/modledger/modlog/ledger"
)

// Reporter posts audit messages for cases and finalizes them in the ledger.
type Reporter struct {
	Logger    *slog.Logger
	Ledger    *ledger.Ledger
	Poster    Poster
	Configs   community.Provider
	Directory actor.Directory
	// optional
	Notifier Notifier

	// author shown on messages for automated cases
	BotName string
	// command prefix used in the reason placeholder
	CommandPrefix string
}

// Report posts the audit message for a pending case (if the community has an audit channel) and then finalizes the case.
//
// A failure to post is logged and sent to the Notifier, but never prevents finalization. Only storage errors are returned. The boolean result is false if the case had already been finalized elsewhere.
func (r *Reporter) Report(ctx context.Context, c *ledger.Case, duration string) (bool, error) {
	logger := r.logger().With("community", c.CommunityID, "case", c.CaseID, "action", c.Action)
	if !c.Pending {
		logger.Warn("skipping audit report for case which is not pending")
		return false, nil
	}

	msgID := r.post(ctx, logger, c, duration)
	ok, err := r.Ledger.Finalize(ctx, c, msgID)
	if err != nil {
		return false, err
	}
	if !ok {
		logger.Warn("case was already finalized")
	}
	return ok, nil
}

func (r *Reporter) post(ctx context.Context, logger *slog.Logger, c *ledger.Case, duration string) *uint64 {
	cfg, err := r.Configs.GetConfig(ctx, c.CommunityID)
	if err != nil {
		logger.Error("fetching community config for audit message", "err", err)
		return nil
	}
	channelID, ok := cfg.AuditChannel()
	if !ok {
		return nil
	}

	msg := Render(c, r.authorFor(ctx, c.ExecutorID), duration, r.CommandPrefix)
	msgID, err := r.Poster.PostMessage(ctx, channelID, msg)
	if err != nil {
		auditPostErrors.WithLabelValues(string(c.Action)).Inc()
		logger.Error("failed to post audit message", "channel", channelID, "err", err)
		if r.Notifier != nil {
			if nerr := r.Notifier.AuditFailed(ctx, c, channelID, err); nerr != nil {
				logger.Error("failed to send audit failure notification", "err", nerr)
			}
		}
		return nil
	}
	auditPostCount.WithLabelValues(string(c.Action)).Inc()
	return &msgID
}

func (r *Reporter) authorFor(ctx context.Context, executorID *uint64) string {
	if executorID == nil {
		if r.BotName == "" {
			return "modledger"
		}
		return r.BotName
	}
	if r.Directory != nil {
		u, err := r.Directory.LookupUser(ctx, *executorID)
		if err == nil {
			return fmt.Sprintf("%s (%d)", u.Tag, u.ID)
		}
		r.logger().Debug("could not resolve moderator for audit message", "executor", *executorID, "err", err)
	}
	return fmt.Sprintf("ID: %d", *executorID)
}

type AmendResult struct {
	Cases []ledger.Case `json:"cases"`
	// audit messages successfully edited
	Edited int `json:"edited"`
	// audit messages which could not be edited; the stored reason was still updated
	Failed int `json:"failed"`
}

// AmendReason updates the reason and responsible moderator for a range of cases, then edits each previously posted audit message in place.
func (r *Reporter) AmendReason(ctx context.Context, communityID uint64, start, end int64, executorID uint64, reason string) (*AmendResult, error) {
	logger := r.logger().With("community", communityID, "start", start, "end", end)

	cases, err := r.Ledger.AmendReason(ctx, communityID, start, end, &executorID, reason)
	if err != nil {
		return nil, err
	}
	res := &AmendResult{Cases: cases}

	cfg, err := r.Configs.GetConfig(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("fetching community config: %w", err)
	}
	channelID, ok := cfg.AuditChannel()
	if !ok {
		return res, nil
	}

	author := r.authorFor(ctx, &executorID)
	for i := range cases {
		c := &cases[i]
		if c.AuditMessageID == nil {
			continue
		}
		if err := r.editReason(ctx, channelID, *c.AuditMessageID, author, reason); err != nil {
			logger.Warn("failed to edit audit message", "case", c.CaseID, "message", *c.AuditMessageID, "err", err)
			auditEditCount.WithLabelValues("error").Inc()
			res.Failed++
			continue
		}
		auditEditCount.WithLabelValues("ok").Inc()
		res.Edited++
	}
	return res, nil
}

func (r *Reporter) editReason(ctx context.Context, channelID, messageID uint64, author, reason string) error {
	msg, err := r.Poster.GetMessage(ctx, channelID, messageID)
	if err != nil {
		return err
	}
	msg.Author = author
	msg.SetLine(LineReason, reason)
	return r.Poster.EditMessage(ctx, channelID, messageID, msg)
}

func (r *Reporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
