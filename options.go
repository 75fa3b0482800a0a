package guestloop

import (
	"time"

	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration for Scheduler creation.
type schedulerOptions struct {
	selector     Selector
	clock        func() time.Time
	faultHandler func(error)
	logger       *logiface.Logger[logiface.Event]
}

// SchedulerOption configures a [Scheduler] instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements SchedulerOption.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (o *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return o.applySchedulerFunc(opts)
}

// WithSelector replaces the default poll(2)-backed selector. Mainly useful
// for tests injecting deterministic readiness.
func WithSelector(selector Selector) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.selector = selector
		return nil
	}}
}

// WithClock replaces the scheduler clock (default [time.Now]). Deadlines
// passed to [Scheduler.CallAt] must come from the same clock.
func WithClock(clock func() time.Time) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.clock = clock
		return nil
	}}
}

// WithFaultHandler sets the handler for callback faults ([CallbackError]).
// The handler runs on the scheduler thread, mid-step; it must not step the
// scheduler. The default handler logs the fault.
func WithFaultHandler(handler func(error)) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.faultHandler = handler
		return nil
	}}
}

// WithLogger attaches a structured logger to the scheduler. A nil logger
// disables logging (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveSchedulerOptions applies SchedulerOption instances.
func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// embedOptions holds configuration for [Embed].
type embedOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// EmbedOption configures an [Embedding].
type EmbedOption interface {
	applyEmbed(*embedOptions) error
}

// embedOptionImpl implements EmbedOption.
type embedOptionImpl struct {
	applyEmbedFunc func(*embedOptions) error
}

func (o *embedOptionImpl) applyEmbed(opts *embedOptions) error {
	return o.applyEmbedFunc(opts)
}

// WithEmbedLogger attaches a structured logger to the embedding. By default
// the embedding inherits the scheduler's logger.
func WithEmbedLogger(logger *logiface.Logger[logiface.Event]) EmbedOption {
	return &embedOptionImpl{func(opts *embedOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveEmbedOptions applies EmbedOption instances.
func resolveEmbedOptions(opts []EmbedOption) (*embedOptions, error) {
	cfg := &embedOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyEmbed(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
