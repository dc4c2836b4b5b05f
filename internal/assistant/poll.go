// Package assistant drives a hosted OpenAI assistant thread from the command line.
package assistant

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
)

var (
	// ErrPollTimeout means the run did not reach a terminal status within the poll window.
	ErrPollTimeout = errors.New("run did not finish in time")

	// ErrRunFailed means the run reached a terminal status other than completed.
	ErrRunFailed = errors.New("run did not complete")
)

// Status is a run status as reported by the Assistants API.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusInProgress     Status = "in_progress"
	StatusCancelling     Status = "cancelling"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
	StatusRequiresAction Status = "requires_action"
	StatusIncomplete     Status = "incomplete"
)

// Terminal reports whether no further transition is expected. requires_action is
// terminal here because this client never submits tool outputs.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusRequiresAction, StatusIncomplete:
		return true
	}
	return false
}

// PollConfig bounds the polling loop.
type PollConfig struct {
	Initial time.Duration
	Max     time.Duration
	MaxWait time.Duration
	// OnWait, if set, is called before each sleep with the last status seen.
	OnWait func(status Status, next time.Duration)
}

// DefaultPollConfig waits 1s, doubling up to 8s, for at most two minutes.
func DefaultPollConfig() PollConfig {
	return PollConfig{Initial: time.Second, Max: 8 * time.Second, MaxWait: 2 * time.Minute}
}

type pendingError struct{ status Status }

func (e *pendingError) Error() string { return "run " + string(e.status) }

// Poll calls check until it reports a terminal status. It returns nil only for
// completed; ErrRunFailed for any other terminal status; ErrPollTimeout when MaxWait
// elapses first. Errors from check stop polling immediately.
func Poll(ctx context.Context, cfg PollConfig, check func(context.Context) (Status, error)) (Status, error) {
	if cfg.Initial <= 0 || cfg.Max <= 0 || cfg.MaxWait <= 0 {
		def := DefaultPollConfig()
		if cfg.Initial <= 0 {
			cfg.Initial = def.Initial
		}
		if cfg.Max <= 0 {
			cfg.Max = def.Max
		}
		if cfg.MaxWait <= 0 {
			cfg.MaxWait = def.MaxWait
		}
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval: cfg.Initial,
		Multiplier:      2,
		MaxInterval:     cfg.Max,
	}

	status, err := backoff.Retry(ctx, func() (Status, error) {
		s, err := check(ctx)
		if err != nil {
			return s, backoff.Permanent(errors.Wrap(err, "retrieve run"))
		}
		switch {
		case s == StatusCompleted:
			return s, nil
		case s.Terminal():
			return s, backoff.Permanent(errors.Wrapf(ErrRunFailed, "status %s", s))
		}
		return s, &pendingError{status: s}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(cfg.MaxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			var p *pendingError
			if cfg.OnWait != nil && errors.As(err, &p) {
				cfg.OnWait(p.status, next)
			}
		}),
	)
	var p *pendingError
	if errors.As(err, &p) {
		return status, errors.Wrapf(ErrPollTimeout, "last status %s after %s", p.status, cfg.MaxWait)
	}
	return status, err
}
