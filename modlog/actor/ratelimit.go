package actor

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited wraps an Actor, bounding the rate of calls made against the platform.
type RateLimited struct {
	Inner   Actor
	Limiter *rate.Limiter
}

var _ Actor = (*RateLimited)(nil)

func NewRateLimited(inner Actor, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Inner:   inner,
		Limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.Limiter.Wait(ctx); err != nil {
		return &TransientError{Wrapped: err}
	}
	return nil
}

func (r *RateLimited) Ban(ctx context.Context, communityID, targetID uint64, deleteMessageDays int, reason string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Inner.Ban(ctx, communityID, targetID, deleteMessageDays, reason)
}

func (r *RateLimited) Unban(ctx context.Context, communityID, targetID uint64, reason string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Inner.Unban(ctx, communityID, targetID, reason)
}

func (r *RateLimited) Kick(ctx context.Context, communityID, targetID uint64, reason string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Inner.Kick(ctx, communityID, targetID, reason)
}

func (r *RateLimited) AddRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Inner.AddRole(ctx, communityID, targetID, roleID, reason)
}

func (r *RateLimited) RemoveRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Inner.RemoveRole(ctx, communityID, targetID, roleID, reason)
}

func (r *RateLimited) ApplyTimeout(ctx context.Context, communityID, targetID uint64, until time.Time, reason string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Inner.ApplyTimeout(ctx, communityID, targetID, until, reason)
}

func (r *RateLimited) RemoveTimeout(ctx context.Context, communityID, targetID uint64, reason string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.Inner.RemoveTimeout(ctx, communityID, targetID, reason)
}
