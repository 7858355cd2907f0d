// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package synchmgr

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	defaultWorkerInterval = 20 * time.Millisecond
)

// DeferPolicy reports whether a wakeup for the given thread must be deferred,
// rather than delivered immediately. It is consulted by signaling threads,
// with the manager's global lock held, and again by the worker before it
// delivers, without. It must be safe for concurrent use, and must not call
// back into the Manager.
type DeferPolicy func(t *Thread) bool

// managerOptions holds configuration options for Manager creation.
type managerOptions struct {
	logger           *logiface.Logger[logiface.Event]
	deferPolicy      DeferPolicy
	workerInterval   time.Duration
	maxThreads       int
	maxRegistrations int
	metricsEnabled   bool
	strictAffinity   bool
}

// Option configures a Manager instance.
type Option interface {
	applyManager(*managerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyManagerFunc func(*managerOptions) error
}

func (o *optionImpl) applyManager(opts *managerOptions) error {
	return o.applyManagerFunc(opts)
}

// WithLogger sets the structured logger. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *managerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection, see Manager.Metrics.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *managerOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithDeferPolicy replaces the predicate deciding whether a wakeup must be
// queued for the worker instead of delivered directly. The default defers
// while the target is suspended, see Thread.Suspend.
func WithDeferPolicy(policy DeferPolicy) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if policy == nil {
			return fmt.Errorf("synchmgr: nil defer policy")
		}
		opts.deferPolicy = policy
		return nil
	}}
}

// WithWorkerInterval sets the maximum time between deferred signal drain
// passes, in the absence of resume notifications.
func WithWorkerInterval(d time.Duration) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if d <= 0 {
			return fmt.Errorf("synchmgr: worker interval must be positive: %v", d)
		}
		opts.workerInterval = d
		return nil
	}}
}

// WithMaxThreads limits the number of simultaneously attached threads.
// Attaching past the limit fails with ErrResourceExhausted. Zero means no limit.
func WithMaxThreads(n int) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if n < 0 {
			return fmt.Errorf("synchmgr: negative thread limit: %d", n)
		}
		opts.maxThreads = n
		return nil
	}}
}

// WithMaxRegistrations limits the number of wait registrations linked across
// all threads at any one time. Zero means no limit.
func WithMaxRegistrations(n int) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if n < 0 {
			return fmt.Errorf("synchmgr: negative registration limit: %d", n)
		}
		opts.maxRegistrations = n
		return nil
	}}
}

// WithStrictThreadAffinity makes every wait verify that the Thread is used
// from the goroutine it is attached to. This costs a stack read per call.
func WithStrictThreadAffinity(enabled bool) Option {
	return &optionImpl{func(opts *managerOptions) error {
		opts.strictAffinity = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to managerOptions.
func resolveOptions(opts []Option) (*managerOptions, error) {
	cfg := &managerOptions{
		deferPolicy:    deferWhileSuspended,
		workerInterval: defaultWorkerInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyManager(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func deferWhileSuspended(t *Thread) bool {
	return t.suspended.Load()
}
