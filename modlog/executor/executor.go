package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/audit"
	"github.com/sushiibot/modledger/modlog/community"
	"github.com/sushiibot/modledger/modlog/ledger"
	"github.com/sushiibot/modledger/modlog/mutes"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNoTargets        = errors.New("no target users were given")
	ErrDurationRequired = errors.New("a duration is required to mute without a mute role")
)

var tracer = otel.Tracer("modledger/executor")

// Request is one moderator command, applying a single action to a list of targets.
type Request struct {
	CommunityID uint64        `json:"community_id"`
	Action      ledger.Action `json:"action"`
	Targets     []uint64      `json:"targets"`
	Reason      *string       `json:"reason,omitempty"`
	ExecutorID  uint64        `json:"executor_id"`
	// mute only; falls back to the community default
	Duration *time.Duration `json:"duration,omitempty"`
	// ban only
	DeleteMessageDays int `json:"delete_message_days"`
	// targets already handled through another path
	Exclude []uint64 `json:"exclude,omitempty"`
}

// Executor applies moderation actions to targets, recording each one as a case.
//
// Targets within a request are processed strictly one at a time.
type Executor struct {
	Logger    *slog.Logger
	Ledger    *ledger.Ledger
	Mutes     *mutes.Store
	Actor     actor.Actor
	Directory actor.Directory
	// optional; no direct messages are sent when nil
	Messenger actor.Messenger
	Configs   community.Provider
	Reporter  *audit.Reporter

	now func() time.Time
}

// per-request state shared by all targets
type invocation struct {
	req      Request
	cfg      *community.Config
	modTag   string
	duration *time.Duration
	exclude  map[uint64]bool
	logger   *slog.Logger
}

// Execute runs the request against every target in order.
//
// A storage error stops processing: the report so far is returned along with the error. Every other failure is isolated to its target and reported as a result line.
func (e *Executor) Execute(ctx context.Context, req Request) (*Report, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
	if len(req.Targets) == 0 {
		return nil, ErrNoTargets
	}

	ctx, span := tracer.Start(ctx, "Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("action", string(req.Action)),
		attribute.Int64("community", int64(req.CommunityID)),
		attribute.Int("targets", len(req.Targets)),
	)

	start := time.Now()
	defer func() {
		executeDuration.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	}()

	cfg, err := e.Configs.GetConfig(ctx, req.CommunityID)
	if err != nil {
		return nil, fmt.Errorf("fetching community config: %w", err)
	}

	inv := &invocation{
		req:     req,
		cfg:     cfg,
		exclude: make(map[uint64]bool, len(req.Exclude)),
		logger:  e.logger().With("community", req.CommunityID, "action", req.Action, "executor", req.ExecutorID),
	}
	for _, id := range req.Exclude {
		inv.exclude[id] = true
	}

	if req.Action == ledger.ActionMute {
		inv.duration = req.Duration
		if inv.duration == nil {
			if d, ok := cfg.DefaultMuteDuration(); ok {
				inv.duration = &d
			}
		}
		if inv.duration == nil && !cfg.RoleMode() {
			return nil, ErrDurationRequired
		}
		if inv.duration != nil && *inv.duration <= 0 {
			return nil, fmt.Errorf("invalid mute duration %s", *inv.duration)
		}
	}

	inv.modTag = fmt.Sprintf("ID: %d", req.ExecutorID)
	if mod, err := e.Directory.LookupUser(ctx, req.ExecutorID); err == nil {
		inv.modTag = mod.Tag
	}

	report := &Report{Action: req.Action}
	for _, targetID := range req.Targets {
		res, err := e.executeTarget(ctx, inv, targetID)
		report.add(res)
		resultCount.WithLabelValues(string(req.Action), string(res.Status)).Inc()
		if err != nil {
			span.RecordError(err)
			inv.logger.Error("stopping after storage error", "target", targetID, "err", err)
			return report, err
		}
	}
	return report, nil
}

func (e *Executor) executeTarget(ctx context.Context, inv *invocation, targetID uint64) (Result, error) {
	req := inv.req
	logger := inv.logger.With("target", targetID)
	res := Result{TargetID: targetID}

	user, err := e.Directory.LookupUser(ctx, targetID)
	if err != nil {
		res.Status = StatusUnresolved
		res.Line = fmt.Sprintf(":x: %d - Error: Failed to fetch user: %s", targetID, err)
		return res, nil
	}
	res.TargetTag = user.Tag
	display := user.Display()

	if inv.exclude[targetID] {
		res.Status = StatusSkipped
		res.Line = fmt.Sprintf(":x: %s - Error: User is already %s", display, req.Action.PastTense())
		return res, nil
	}

	now := e.clock()
	if req.Action == ledger.ActionMute {
		existing, err := e.Mutes.Get(ctx, req.CommunityID, targetID)
		if err != nil && !errors.Is(err, mutes.ErrMuteNotFound) {
			res.Status = StatusFailed
			res.Line = fmt.Sprintf(":x: %s - Error: Something went wrong saving this case :(", display)
			return res, err
		}
		if existing != nil && !existing.Pending && !existing.Expired(now) {
			res.Status = StatusFailed
			res.Category = actor.Rejected.String()
			res.Line = fmt.Sprintf(":x: %s - Error: User is already muted", display)
			return res, nil
		}
	}

	c, err := e.Ledger.Reserve(ctx, ledger.Draft{
		CommunityID: req.CommunityID,
		Action:      req.Action,
		TargetID:    targetID,
		TargetTag:   user.Tag,
		ExecutorID:  &req.ExecutorID,
		Reason:      req.Reason,
		ActionTime:  now,
	})
	if err != nil {
		res.Status = StatusFailed
		res.Line = fmt.Sprintf(":x: %s - Error: Something went wrong saving this case :(", display)
		return res, err
	}
	res.CaseID = c.CaseID

	var mute *mutes.Mute
	if req.Action == ledger.ActionMute {
		mute = &mutes.Mute{
			CommunityID: req.CommunityID,
			TargetID:    targetID,
			CaseID:      &c.CaseID,
			Pending:     true,
			StartTime:   now,
		}
		if inv.duration != nil {
			end := now.Add(*inv.duration)
			mute.EndTime = &end
		}
		if err := e.Mutes.Upsert(ctx, mute); err != nil {
			if rerr := e.Ledger.Rollback(ctx, c); rerr != nil {
				logger.Error("failed to roll back case", "case", c.CaseID, "err", rerr)
			}
			res.Status = StatusFailed
			res.Line = fmt.Sprintf(":x: %s - Error: Something went wrong saving this case :(", display)
			return res, err
		}
	}

	if req.Action.HasEffect() {
		if err := e.apply(ctx, inv, targetID, mute); err != nil {
			return e.rejected(ctx, logger, inv, res, c, mute, display, err)
		}
	}

	duration := ""
	switch req.Action {
	case ledger.ActionMute:
		if _, err := e.Mutes.Activate(ctx, req.CommunityID, targetID); err != nil {
			return e.appliedStorageFailure(ctx, logger, res, c, display, err)
		}
		duration = mute.HumanDuration()
	case ledger.ActionUnmute:
		// explicitly lifted
		if _, err := e.Mutes.Delete(ctx, req.CommunityID, targetID); err != nil {
			return e.appliedStorageFailure(ctx, logger, res, c, display, err)
		}
	}

	if _, err := e.Reporter.Report(ctx, c, duration); err != nil {
		return e.appliedStorageFailure(ctx, logger, res, c, display, err)
	}

	res.Status = StatusSucceeded
	res.Line = fmt.Sprintf("%s %s %s.", req.Action.Emoji(), display, req.Action.PastTense())
	if !e.notify(ctx, logger, inv, targetID, duration) {
		res.Line += " (could not DM user)"
	}
	inv.exclude[targetID] = true
	logger.Info("moderation action applied", "case", c.CaseID)
	return res, nil
}

// apply calls out to the platform for the action.
func (e *Executor) apply(ctx context.Context, inv *invocation, targetID uint64, mute *mutes.Mute) error {
	req := inv.req
	reason := platformReason(req.Action, inv.modTag, req.ExecutorID, req.Reason)
	switch req.Action {
	case ledger.ActionBan:
		return e.Actor.Ban(ctx, req.CommunityID, targetID, req.DeleteMessageDays, reason)
	case ledger.ActionUnban:
		return e.Actor.Unban(ctx, req.CommunityID, targetID, reason)
	case ledger.ActionKick:
		return e.Actor.Kick(ctx, req.CommunityID, targetID, reason)
	case ledger.ActionMute:
		if inv.cfg.RoleMode() {
			return e.Actor.AddRole(ctx, req.CommunityID, targetID, *inv.cfg.MuteRoleID, reason)
		}
		return e.Actor.ApplyTimeout(ctx, req.CommunityID, targetID, *mute.EndTime, reason)
	case ledger.ActionUnmute:
		if inv.cfg.RoleMode() {
			return e.Actor.RemoveRole(ctx, req.CommunityID, targetID, *inv.cfg.MuteRoleID, reason)
		}
		return e.Actor.RemoveTimeout(ctx, req.CommunityID, targetID, reason)
	default:
		return nil
	}
}

// rejected undoes the reservation for an effect which did not happen.
func (e *Executor) rejected(ctx context.Context, logger *slog.Logger, inv *invocation, res Result, c *ledger.Case, mute *mutes.Mute, display string, effectErr error) (Result, error) {
	category := actor.Classify(effectErr)
	logger.Warn("moderation action failed", "case", c.CaseID, "category", category, "err", effectErr)

	res.Status = StatusFailed
	res.Category = category.String()
	res.CaseID = 0
	res.Line = failureLine(inv.req.Action, display, effectErr)

	if mute != nil {
		if err := e.Mutes.DeletePending(ctx, inv.req.CommunityID, res.TargetID); err != nil {
			return res, err
		}
	}
	if err := e.Ledger.Rollback(ctx, c); err != nil {
		return res, err
	}
	return res, nil
}

// appliedStorageFailure handles a storage error after the platform effect already happened. The case must not stay pending, so it is finalized without an audit message if at all possible.
func (e *Executor) appliedStorageFailure(ctx context.Context, logger *slog.Logger, res Result, c *ledger.Case, display string, err error) (Result, error) {
	logger.Error("storage error after moderation action was applied", "case", c.CaseID, "action", c.Action, "err", err)
	if c.Pending {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, ferr := e.Ledger.Finalize(fctx, c, nil); ferr != nil {
			logger.Error("case left pending after applied action; needs manual reconciliation", "case", c.CaseID, "err", ferr)
		}
	}
	return e.storageFailure(res, display, err)
}

func (e *Executor) storageFailure(res Result, display string, err error) (Result, error) {
	res.Status = StatusFailed
	res.Line = fmt.Sprintf(":x: %s - Error: Something went wrong saving this case :(", display)
	return res, err
}

// notify sends the configured direct message, if any. Returns false only if a message should have been sent but could not be.
func (e *Executor) notify(ctx context.Context, logger *slog.Logger, inv *invocation, targetID uint64, duration string) bool {
	if e.Messenger == nil {
		return true
	}
	text, ok := inv.cfg.DirectMessage(inv.req.Action, inv.req.Reason, duration)
	if !ok {
		return true
	}
	if err := e.Messenger.DirectMessage(ctx, targetID, text); err != nil {
		logger.Info("could not send direct message", "err", err)
		return false
	}
	return true
}

func failureLine(action ledger.Action, display string, err error) string {
	var permErr *actor.PermissionError
	var valErr *actor.ValidationError
	switch {
	case errors.As(err, &permErr):
		return fmt.Sprintf(":question: %s - Error: I don't have permission to %s this user, requires: `%s`.", display, action.PresentTense(), strings.Join(permErr.Required, ", "))
	case errors.As(err, &valErr):
		return fmt.Sprintf(":x: %s - Error: %s", display, valErr.Detail)
	default:
		return fmt.Sprintf(":question: %s - Error: %s", display, err)
	}
}

// platformReason is the audit reason attached to the platform call, eg "[Ban by mod (ID: 1)] spam".
func platformReason(action ledger.Action, modTag string, modID uint64, reason *string) string {
	text := "No reason provided"
	if reason != nil && *reason != "" {
		text = *reason
	}
	verb := action.String()
	if verb != "" {
		verb = strings.ToUpper(verb[:1]) + verb[1:]
	}
	return fmt.Sprintf("[%s by %s (ID: %d)] %s", verb, modTag, modID, text)
}

func (e *Executor) clock() time.Time {
	if e.now != nil {
		return e.now().UTC()
	}
	return time.Now().UTC()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
