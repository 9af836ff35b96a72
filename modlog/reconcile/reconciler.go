package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/audit"
	"github.com/sushiibot/modledger/modlog/community"
	"github.com/sushiibot/modledger/modlog/ledger"
	"github.com/sushiibot/modledger/modlog/mutes"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ReasonRejoinExpired = "Automated Unmute: User re-joined after mute expired."
	reapplyReason       = "Automated Mute: User re-joined with an active mute."
)

var tracer = otel.Tracer("modledger/reconcile")

// Reconciler keeps the mute store in agreement with member state observed on the platform.
//
// A pending mute or a pending case for the same target belongs to an in-flight executor or scanner request, which records the case itself. The reconciler only records cases for changes made outside the bot.
type Reconciler struct {
	Logger  *slog.Logger
	Ledger  *ledger.Ledger
	Mutes   *mutes.Store
	Actor   actor.Actor
	Configs community.Provider
	// optional
	Messenger actor.Messenger
	Reporter  *audit.Reporter

	now func() time.Time
}

// HandleMemberUpdate classifies a member state change and applies it to the mute store and ledger.
func (r *Reconciler) HandleMemberUpdate(ctx context.Context, ev MemberUpdate) (transition Transition, err error) {
	logger := r.logger().With("community", ev.CommunityID, "target", ev.User.ID)
	// a bad event must never take down the process
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("member update handler exception", "err", rec)
			err = fmt.Errorf("panic handling member update: %v", rec)
		}
		if err != nil {
			eventErrorCount.WithLabelValues("member_update").Inc()
		}
	}()

	ctx, span := tracer.Start(ctx, "HandleMemberUpdate")
	defer span.End()

	cfg, err := r.Configs.GetConfig(ctx, ev.CommunityID)
	if err != nil {
		return NoChange, fmt.Errorf("fetching community config: %w", err)
	}
	row, getErr := r.Mutes.Get(ctx, ev.CommunityID, ev.User.ID)
	if getErr != nil && !errors.Is(getErr, mutes.ErrMuteNotFound) {
		return NoChange, getErr
	}

	now := r.clock()
	var end *time.Time
	if cfg.RoleMode() {
		roleID := *cfg.MuteRoleID
		had := row != nil && !row.Expired(now)
		if ev.Old != nil {
			had = ev.Old.HasRole(roleID)
		}
		transition = ClassifyRole(had, ev.New.HasRole(roleID))
		if d, ok := cfg.DefaultMuteDuration(); ok {
			e := now.Add(d)
			end = &e
		}
	} else {
		var old *time.Time
		if ev.Old != nil {
			old = ev.Old.TimeoutUntil
		} else if row != nil {
			old = row.EndTime
		}
		transition = ClassifyTimeout(old, ev.New.TimeoutUntil, now)
		end = ev.New.TimeoutUntil
	}
	span.SetAttributes(attribute.String("transition", transition.String()))
	eventCount.WithLabelValues("member_update", transition.String()).Inc()

	switch transition {
	case Mute:
		err = r.mute(ctx, logger, cfg, ev.CommunityID, ev.User, row, end, now)
	case Unmute:
		err = r.unmute(ctx, logger, cfg, ev.CommunityID, ev.User, row, now)
	case ChangeDuration:
		if row == nil {
			// never tracked: record it like a new restriction
			err = r.mute(ctx, logger, cfg, ev.CommunityID, ev.User, nil, end, now)
		} else {
			err = r.Mutes.SetEndTime(ctx, ev.CommunityID, ev.User.ID, end)
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return transition, err
}

func (r *Reconciler) mute(ctx context.Context, logger *slog.Logger, cfg *community.Config, communityID uint64, user actor.User, row *mutes.Mute, end *time.Time, now time.Time) error {
	if row != nil && row.Pending {
		logger.Debug("adopting pending mute")
		_, err := r.Mutes.Activate(ctx, communityID, user.ID)
		return err
	}
	if row != nil && !row.Expired(now) {
		// already recorded; in timeout mode keep the end time in line with the platform
		if !cfg.RoleMode() && !sameTime(row.EndTime, end) {
			return r.Mutes.SetEndTime(ctx, communityID, user.ID, end)
		}
		return nil
	}

	logger.Info("recording mute applied outside the bot")
	c, err := r.Ledger.Reserve(ctx, ledger.Draft{
		CommunityID: communityID,
		Action:      ledger.ActionMute,
		TargetID:    user.ID,
		TargetTag:   user.Tag,
		ActionTime:  now,
	})
	if err != nil {
		return err
	}
	m := &mutes.Mute{
		CommunityID: communityID,
		TargetID:    user.ID,
		CaseID:      &c.CaseID,
		StartTime:   now,
		EndTime:     end,
	}
	if err := r.Mutes.Upsert(ctx, m); err != nil {
		if rerr := r.Ledger.Rollback(ctx, c); rerr != nil {
			logger.Error("failed to roll back case", "case", c.CaseID, "err", rerr)
		}
		return err
	}
	duration := m.HumanDuration()
	if _, err := r.Reporter.Report(ctx, c, duration); err != nil {
		return err
	}
	r.notify(ctx, logger, cfg, ledger.ActionMute, user.ID, duration)
	return nil
}

func (r *Reconciler) unmute(ctx context.Context, logger *slog.Logger, cfg *community.Config, communityID uint64, user actor.User, row *mutes.Mute, now time.Time) error {
	if row == nil {
		// already lifted and recorded by the executor or scanner
		return nil
	}
	inFlight, err := r.Ledger.FindPending(ctx, communityID, user.ID, ledger.ActionUnmute)
	if err != nil {
		return err
	}
	if _, err := r.Mutes.Delete(ctx, communityID, user.ID); err != nil {
		return err
	}
	if inFlight != nil {
		return nil
	}

	logger.Info("recording unmute made outside the bot")
	c, err := r.Ledger.Reserve(ctx, ledger.Draft{
		CommunityID: communityID,
		Action:      ledger.ActionUnmute,
		TargetID:    user.ID,
		TargetTag:   user.Tag,
		ActionTime:  now,
	})
	if err != nil {
		return err
	}
	if _, err := r.Reporter.Report(ctx, c, ""); err != nil {
		return err
	}
	r.notify(ctx, logger, cfg, ledger.ActionUnmute, user.ID, "")
	return nil
}

// HandleMemberJoin re-applies an active mute to a member who left and came back, or closes out one which lapsed while they were away.
func (r *Reconciler) HandleMemberJoin(ctx context.Context, ev MemberJoin) (err error) {
	logger := r.logger().With("community", ev.CommunityID, "target", ev.User.ID)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("member join handler exception", "err", rec)
			err = fmt.Errorf("panic handling member join: %v", rec)
		}
		if err != nil {
			eventErrorCount.WithLabelValues("member_join").Inc()
		}
	}()

	ctx, span := tracer.Start(ctx, "HandleMemberJoin")
	defer span.End()

	row, err := r.Mutes.Get(ctx, ev.CommunityID, ev.User.ID)
	if errors.Is(err, mutes.ErrMuteNotFound) {
		eventCount.WithLabelValues("member_join", "none").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if row.Pending {
		eventCount.WithLabelValues("member_join", "pending").Inc()
		return nil
	}

	now := r.clock()
	if row.Expired(now) {
		eventCount.WithLabelValues("member_join", "expired").Inc()
		reason := ReasonRejoinExpired
		c, err := r.Ledger.Reserve(ctx, ledger.Draft{
			CommunityID: ev.CommunityID,
			Action:      ledger.ActionUnmute,
			TargetID:    ev.User.ID,
			TargetTag:   ev.User.Tag,
			Reason:      &reason,
			ActionTime:  now,
		})
		if err != nil {
			return err
		}
		if _, err := r.Mutes.Delete(ctx, ev.CommunityID, ev.User.ID); err != nil {
			return err
		}
		_, err = r.Reporter.Report(ctx, c, "")
		return err
	}

	eventCount.WithLabelValues("member_join", "reapply").Inc()
	cfg, err := r.Configs.GetConfig(ctx, ev.CommunityID)
	if err != nil {
		return fmt.Errorf("fetching community config: %w", err)
	}
	if cfg.RoleMode() {
		err = r.Actor.AddRole(ctx, ev.CommunityID, ev.User.ID, *cfg.MuteRoleID, reapplyReason)
	} else if row.EndTime != nil {
		err = r.Actor.ApplyTimeout(ctx, ev.CommunityID, ev.User.ID, *row.EndTime, reapplyReason)
	} else {
		logger.Warn("cannot re-apply indefinite mute without a mute role")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("re-applying mute: %w", err)
	}
	logger.Info("re-applied mute after rejoin")
	return nil
}

// notify is best-effort: an unreachable target is ignored.
func (r *Reconciler) notify(ctx context.Context, logger *slog.Logger, cfg *community.Config, action ledger.Action, targetID uint64, duration string) {
	if r.Messenger == nil {
		return
	}
	text, ok := cfg.DirectMessage(action, nil, duration)
	if !ok {
		return
	}
	if err := r.Messenger.DirectMessage(ctx, targetID, text); err != nil {
		logger.Debug("could not send direct message", "err", err)
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (r *Reconciler) clock() time.Time {
	if r.now != nil {
		return r.now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
