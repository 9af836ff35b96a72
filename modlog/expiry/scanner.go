package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sushiibot/modledger/modlog/actor"
	"github.com/sushiibot/modledger/modlog/audit"
	"github.com/sushiibot/modledger/modlog/community"
	"github.com/sushiibot/modledger/modlog/failures"
	"github.com/sushiibot/modledger/modlog/ledger"
	"github.com/sushiibot/modledger/modlog/mutes"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultInterval is how often expired mutes are looked for
var DefaultInterval = 10 * time.Second

const platformReason = "Automated Unmute: Mute expired"

var tracer = otel.Tracer("modledger/expiry")

// Scanner periodically lifts mutes which have passed their end time.
//
// Each tick handles expired mutes one at a time. Failures are tracked per mute in the retry ledger, with backoff, until the job is given up on.
type Scanner struct {
	Logger   *slog.Logger
	Mutes    *mutes.Store
	Failures *failures.Store
	Ledger   *ledger.Ledger
	Actor    actor.Actor
	Configs  community.Provider
	Reporter *audit.Reporter
	Interval time.Duration

	// held for the duration of a tick
	running sync.Mutex
	now     func() time.Time
}

// TickSummary counts what happened to each expired mute seen in a tick.
type TickSummary struct {
	Expired  int  `json:"expired"`
	Unmuted  int  `json:"unmuted"`
	Departed int  `json:"departed"`
	Failed   int  `json:"failed"`
	Deferred int  `json:"deferred"`
	GaveUp   int  `json:"gave_up"`
	Errored  int  `json:"errored"`
	Overlap  bool `json:"overlap,omitempty"`
}

// JobID is the retry ledger identifier for lifting a specific mute.
func JobID(m *mutes.Mute) string {
	return fmt.Sprintf("unmute:%d:%d:%d", m.CommunityID, m.TargetID, m.StartTime.Unix())
}

// Run ticks until the context is cancelled. A tick already in progress when the context is cancelled runs to completion.
func (s *Scanner) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := s.logger()
	logger.Info("starting expiry scanner", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("expiry scanner shutting down")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(context.WithoutCancel(ctx)); err != nil {
				logger.Error("expiry scanner tick failed", "err", err)
			}
		}
	}
}

// Tick processes every currently expired mute, sequentially. Only a failure to list expired mutes is returned; per-mute problems are isolated and counted.
func (s *Scanner) Tick(ctx context.Context) (*TickSummary, error) {
	if !s.running.TryLock() {
		s.logger().Warn("previous expiry tick still running, skipping")
		return &TickSummary{Overlap: true}, nil
	}
	defer s.running.Unlock()

	ctx, span := tracer.Start(ctx, "Tick")
	defer span.End()
	start := time.Now()
	defer func() {
		tickDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.clock()
	expired, err := s.Mutes.Expired(ctx, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("expired", len(expired)))

	sum := &TickSummary{Expired: len(expired)}
	for i := range expired {
		outcome, err := s.process(ctx, &expired[i], now)
		if err != nil {
			outcome = "errored"
			s.logger().Error("failed processing expired mute", "community", expired[i].CommunityID, "target", expired[i].TargetID, "err", err)
		}
		unmuteOutcomes.WithLabelValues(outcome).Inc()
		sum.add(outcome)
	}
	return sum, nil
}

func (t *TickSummary) add(outcome string) {
	switch outcome {
	case "unmuted":
		t.Unmuted++
	case "departed":
		t.Departed++
	case "failed":
		t.Failed++
	case "deferred":
		t.Deferred++
	case "gave_up":
		t.GaveUp++
	case "errored":
		t.Errored++
	}
}

func (s *Scanner) process(ctx context.Context, m *mutes.Mute, now time.Time) (string, error) {
	logger := s.logger().With("community", m.CommunityID, "target", m.TargetID)
	jobID := JobID(m)
	duration := m.HumanDuration()

	prior, err := s.Failures.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if prior != nil && prior.Exceeded() {
		reason := fmt.Sprintf("Automated Unmute: Gave up removing mute after %d failed attempts (Duration: %s).", prior.AttemptCount, duration)
		c, err := s.reserve(ctx, m, reason)
		if err != nil {
			return "", err
		}
		if err := s.finish(ctx, m, jobID, c, ""); err != nil {
			return "", err
		}
		logger.Warn("gave up lifting expired mute", "attempts", prior.AttemptCount)
		return "gave_up", nil
	}
	if prior != nil && !prior.ShouldAttempt(now) {
		return "deferred", nil
	}

	cfg, err := s.Configs.GetConfig(ctx, m.CommunityID)
	if err != nil {
		return "", fmt.Errorf("fetching community config: %w", err)
	}

	// reserved before the platform call, so the resulting member update is seen as ours
	c, err := s.reserve(ctx, m, fmt.Sprintf("Automated Unmute: Mute expired (Duration: %s).", duration))
	if err != nil {
		return "", err
	}

	var effectErr error
	if cfg.RoleMode() {
		effectErr = s.Actor.RemoveRole(ctx, m.CommunityID, m.TargetID, *cfg.MuteRoleID, platformReason)
	} else {
		effectErr = s.Actor.RemoveTimeout(ctx, m.CommunityID, m.TargetID, platformReason)
	}

	switch actor.Classify(effectErr) {
	case actor.None:
		if err := s.finish(ctx, m, jobID, c, ""); err != nil {
			return "", err
		}
		return "unmuted", nil
	case actor.NotFound:
		reason := fmt.Sprintf("Automated Unmute: Mute expired (Duration: %s). User is no longer in the community and will not be muted if they re-join.", duration)
		if err := s.finish(ctx, m, jobID, c, reason); err != nil {
			return "", err
		}
		return "departed", nil
	default:
		if err := s.Ledger.Rollback(ctx, c); err != nil {
			return "", err
		}
		f, err := s.Failures.RecordFailure(ctx, jobID, now)
		if err != nil {
			return "", err
		}
		logger.Warn("failed to lift expired mute", "attempt", f.AttemptCount, "next_attempt", f.NextAttempt, "err", effectErr)
		return "failed", nil
	}
}

func (s *Scanner) reserve(ctx context.Context, m *mutes.Mute, reason string) (*ledger.Case, error) {
	// the tag snapshot comes from the case that created the mute, when there is one
	tag := ""
	if m.CaseID != nil {
		if orig, err := s.Ledger.Get(ctx, m.CommunityID, *m.CaseID); err == nil {
			tag = orig.TargetTag
		}
	}
	if tag == "" {
		tag = fmt.Sprintf("%d", m.TargetID)
	}
	return s.Ledger.Reserve(ctx, ledger.Draft{
		CommunityID: m.CommunityID,
		Action:      ledger.ActionUnmute,
		TargetID:    m.TargetID,
		TargetTag:   tag,
		Reason:      &reason,
		ActionTime:  s.clock(),
	})
}

// finish removes the mute and its retry state and finalizes the case. A non-empty reason replaces the reserved one.
func (s *Scanner) finish(ctx context.Context, m *mutes.Mute, jobID string, c *ledger.Case, reason string) error {
	if reason != "" {
		if _, err := s.Ledger.AmendReason(ctx, c.CommunityID, c.CaseID, c.CaseID, nil, reason); err != nil {
			return err
		}
		c.Reason = &reason
	}
	if _, err := s.Mutes.Delete(ctx, m.CommunityID, m.TargetID); err != nil {
		return err
	}
	if err := s.Failures.Delete(ctx, jobID); err != nil {
		return err
	}
	_, err := s.Reporter.Report(ctx, c, "")
	return err
}

func (s *Scanner) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
