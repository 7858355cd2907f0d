package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	synchmgr "github.com/joeycumines/go-synchmgr"
	"github.com/joeycumines/go-synchmgr/internal/stressconfig"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the final full-cleanup shutdown.
const shutdownTimeout = 10 * time.Second

type (
	object struct {
		handle synchmgr.Handle
		kind   synchmgr.Kind
		manual bool
	}

	stress struct {
		m       *synchmgr.Manager
		cfg     stressconfig.Config
		objects []object
		events  []int
		peers   []atomic.Pointer[synchmgr.Thread]
		ops     [stressconfig.OpSuspend + 1]atomic.Uint64
		// exhausted counts waits rejected by the registration budget.
		exhausted atomic.Uint64
		callbacks atomic.Uint64
	}
)

// run executes a stress run, returning once every thread has finished and
// the manager has shut down.
func run(ctx context.Context, cfg stressconfig.Config, logger *logiface.Logger[logiface.Event]) (*report, error) {
	opts := []synchmgr.Option{
		synchmgr.WithLogger(logger),
		synchmgr.WithMetrics(true),
		synchmgr.WithMaxRegistrations(cfg.Manager.MaxRegistrations),
		synchmgr.WithMaxThreads(cfg.Manager.MaxThreads),
		synchmgr.WithStrictThreadAffinity(true),
	}
	if cfg.Manager.WorkerInterval > 0 {
		opts = append(opts, synchmgr.WithWorkerInterval(time.Duration(cfg.Manager.WorkerInterval)))
	}
	m, err := synchmgr.New(opts...)
	if err != nil {
		return nil, err
	}

	s := &stress{
		m:     m,
		cfg:   cfg,
		peers: make([]atomic.Pointer[synchmgr.Thread], cfg.Threads),
	}
	if err := s.createObjects(); err != nil {
		_ = m.Shutdown(ctx, false)
		return nil, err
	}
	if cfg.Manager.Worker {
		if err := m.StartWorker(); err != nil {
			_ = m.Shutdown(ctx, false)
			return nil, err
		}
	}

	logger.Info().
		Int(`threads`, cfg.Threads).
		Int(`objects`, len(s.objects)).
		Dur(`duration`, time.Duration(cfg.Duration)).
		Bool(`worker`, cfg.Manager.Worker).
		Log(`stress run starting`)

	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Duration))
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for i := range cfg.Threads {
		g.Go(func() error { return s.thread(gctx, i) })
	}
	runErr := g.Wait()
	elapsed := time.Since(started)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()
	snapshot := m.Metrics()
	if err := m.Shutdown(shutdownCtx, true); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr != nil {
		logger.Err().Err(runErr).Log(`stress run failed`)
		return nil, runErr
	}

	logger.Info().
		Dur(`elapsed`, elapsed).
		Uint64(`waits`, snapshot.Waits).
		Log(`stress run finished`)

	r := &report{
		Elapsed:   elapsed,
		Metrics:   snapshot,
		Exhausted: s.exhausted.Load(),
		Callbacks: s.callbacks.Load(),
		Ops:       make(map[string]uint64, len(s.ops)),
	}
	for op := range s.ops {
		r.Ops[stressconfig.Op(op).String()] = s.ops[op].Load()
	}
	return r, nil
}

func (s *stress) createObjects() error {
	o := s.cfg.Objects
	for range o.Mutexes {
		h, err := s.m.CreateMutex(nil)
		if err != nil {
			return err
		}
		s.objects = append(s.objects, object{handle: h, kind: synchmgr.KindMutex})
	}
	for i := range o.Events {
		manual := i%2 == 1
		h, err := s.m.CreateEvent(manual, true)
		if err != nil {
			return err
		}
		s.events = append(s.events, len(s.objects))
		s.objects = append(s.objects, object{handle: h, kind: synchmgr.KindEvent, manual: manual})
	}
	for range o.Semaphores {
		h, err := s.m.CreateSemaphore(o.SemaphoreMax, o.SemaphoreMax)
		if err != nil {
			return err
		}
		s.objects = append(s.objects, object{handle: h, kind: synchmgr.KindSemaphore})
	}
	return nil
}

// thread is the body of stress thread i. It runs on its own attached
// goroutine until ctx is done.
func (s *stress) thread(ctx context.Context, i int) error {
	t, err := s.m.Attach()
	if err != nil {
		return fmt.Errorf("thread %d: %w", i, err)
	}
	s.peers[i].Store(t)
	defer func() {
		s.peers[i].Store(nil)
		_ = t.Exit()
	}()

	rng := rand.New(rand.NewPCG(uint64(s.cfg.Seed), uint64(i)))
	total := s.cfg.Mix.Total()
	for ctx.Err() == nil {
		op := s.cfg.Mix.Pick(rng.IntN(total))
		s.ops[op].Add(1)
		if err := s.step(t, rng, op); err != nil {
			if errors.Is(err, synchmgr.ErrResourceExhausted) {
				s.exhausted.Add(1)
				continue
			}
			return fmt.Errorf("thread %d: %s: %w", i, op, err)
		}
	}
	return nil
}

func (s *stress) step(t *synchmgr.Thread, rng *rand.Rand, op stressconfig.Op) error {
	timeout := time.Duration(s.cfg.Timeout)
	switch op {
	case stressconfig.OpWaitAny, stressconfig.OpWaitAll:
		picked := s.pick(rng)
		handles := make([]synchmgr.Handle, len(picked))
		for i, idx := range picked {
			handles[i] = s.objects[idx].handle
		}
		var waitOpts []synchmgr.WaitOption
		if rng.IntN(4) == 0 {
			waitOpts = append(waitOpts, synchmgr.WithPrioritize())
		}
		outcome, err := s.m.WaitForObjects(t, handles, op == stressconfig.OpWaitAll, timeout, rng.IntN(2) == 0, waitOpts...)
		if err != nil {
			return err
		}
		if err := s.release(t, rng, picked, outcome); err != nil {
			return err
		}

	case stressconfig.OpSignalAndWait:
		if len(s.events) == 0 {
			return nil
		}
		signal := s.objects[s.events[rng.IntN(len(s.events))]]
		target := rng.IntN(len(s.objects))
		outcome, err := s.m.SignalAndWait(t, signal.handle, s.objects[target].handle, timeout, rng.IntN(2) == 0)
		if err != nil {
			return err
		}
		if err := s.release(t, rng, []int{target}, outcome); err != nil {
			return err
		}

	case stressconfig.OpAlertableSleep:
		if peer := s.peer(rng); peer != nil && peer != t {
			// the peer may exit concurrently
			_ = s.m.QueueCallback(peer, func() { s.callbacks.Add(1) })
		}
		if _, err := s.m.AlertableSleep(t, timeout); err != nil {
			return err
		}

	case stressconfig.OpSuspend:
		if peer := s.peer(rng); peer != nil && peer != t {
			peer.Suspend()
			time.Sleep(timeout / 4)
			peer.Resume()
		}
	}

	// keep events flowing
	if len(s.events) != 0 && rng.IntN(4) == 0 {
		if err := s.m.SetEvent(s.objects[s.events[rng.IntN(len(s.events))]].handle); err != nil {
			return err
		}
	}
	return nil
}

// pick selects distinct object indices, in random order.
func (s *stress) pick(rng *rand.Rand) []int {
	n := 1 + rng.IntN(min(s.cfg.Objects.MaxBatch, len(s.objects)))
	return rng.Perm(len(s.objects))[:n]
}

func (s *stress) peer(rng *rand.Rand) *synchmgr.Thread {
	return s.peers[rng.IntN(len(s.peers))].Load()
}

// release undoes what a satisfied wait claimed, so objects keep cycling.
func (s *stress) release(t *synchmgr.Thread, rng *rand.Rand, picked []int, outcome synchmgr.WaitOutcome) error {
	if !outcome.Claimed() {
		return nil
	}
	for _, i := range outcome.Indices {
		o := s.objects[picked[i]]
		var err error
		switch o.kind {
		case synchmgr.KindMutex:
			err = s.m.ReleaseMutex(t, o.handle)
		case synchmgr.KindSemaphore:
			_, err = s.m.ReleaseSemaphore(o.handle, 1)
		case synchmgr.KindEvent:
			if o.manual && rng.IntN(2) == 0 {
				err = s.m.ResetEvent(o.handle)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
