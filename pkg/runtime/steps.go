package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"

	daerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/plan"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/telemetry"
)

// executeSteps runs steps in order. Cancellation and soft stops are checked
// before every step.
func (s *scope) executeSteps(ctx context.Context, steps []plan.Step, store storage.Store) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.run.stopped.Load() {
			return nil
		}

		var err error
		switch st := step.(type) {
		case *plan.LayerStep:
			err = s.executeLayer(ctx, st, store)
		case *plan.LoopStep:
			err = s.executeLoop(ctx, st, store)
		case *plan.BranchStep:
			err = s.executeBranch(ctx, st, store)
		case *plan.ParallelSteps:
			err = s.executeParallel(ctx, st, store)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scope) executeLayer(ctx context.Context, st *plan.LayerStep, store storage.Store) error {
	s.run.emit(ctx, telemetry.Event{Type: telemetry.LayerStarted, Nodes: st.NodeIDs})

	if len(st.NodeIDs) == 1 || !s.run.rt.cfg.Parallel {
		for _, id := range st.NodeIDs {
			n, err := s.node(id)
			if err != nil {
				return err
			}
			if err := s.executeNode(ctx, n, store); err != nil {
				return err
			}
		}
	} else {
		tasks := make([]func(context.Context) error, 0, len(st.NodeIDs))
		for _, id := range st.NodeIDs {
			n, err := s.node(id)
			if err != nil {
				return err
			}
			tasks = append(tasks, func(ctx context.Context) error {
				return s.executeNode(ctx, n, store)
			})
		}
		if err := s.run.parallel(ctx, tasks); err != nil {
			return err
		}
	}

	s.run.emit(ctx, telemetry.Event{Type: telemetry.LayerCompleted, Nodes: st.NodeIDs})
	return nil
}

// executeLoop runs the header, then the body for as long as the header
// signals its continue output. Every body pass runs in a new generation
// with the loop scope reset.
func (s *scope) executeLoop(ctx context.Context, st *plan.LoopStep, store storage.Store) error {
	header, err := s.node(st.Header)
	if err != nil {
		return err
	}

	for iterations := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.run.stopped.Load() {
			return nil
		}

		store.ClearExecuted(header.ID)
		if err := s.executeNode(withIteration(ctx, iterations), header, store); err != nil {
			return err
		}
		if !store.IsExecuted(header.ID) {
			return nil
		}
		if signaled(store, header.ID, st.ExitSocket) || !signaled(store, header.ID, st.ContinueSocket) {
			return nil
		}
		if iterations == s.run.rt.cfg.MaxLoopIterations {
			return &LoopLimitError{Header: header.ID, HeaderName: header.Label(), Limit: iterations}
		}
		iterations++

		store.PushGeneration()
		s.reset(store, st.Reset)
		err := s.executeSteps(ctx, st.Body, store)
		store.PopGeneration()
		if err != nil {
			return err
		}
	}
}

// executeBranch runs the condition node, then the sequence of every output
// it signaled, in declared output order.
func (s *scope) executeBranch(ctx context.Context, st *plan.BranchStep, store storage.Store) error {
	cond, err := s.node(st.Condition)
	if err != nil {
		return err
	}
	if err := s.executeNode(ctx, cond, store); err != nil {
		return err
	}
	if !store.IsExecuted(cond.ID) {
		return nil
	}

	for _, out := range st.Outputs {
		if !signaled(store, cond.ID, out) {
			continue
		}
		if err := s.executeSteps(ctx, st.Branches[out], store); err != nil {
			return err
		}
	}
	return nil
}

func (s *scope) executeParallel(ctx context.Context, st *plan.ParallelSteps, store storage.Store) error {
	if len(st.Sequences) == 1 || !s.run.rt.cfg.Parallel {
		for _, seq := range st.Sequences {
			if err := s.executeSteps(ctx, seq, store); err != nil {
				return err
			}
		}
		return nil
	}

	tasks := make([]func(context.Context) error, 0, len(st.Sequences))
	for _, seq := range st.Sequences {
		tasks = append(tasks, func(ctx context.Context) error {
			return s.executeSteps(ctx, seq, store)
		})
	}
	return s.run.parallel(ctx, tasks)
}

type slotKey struct{}

type iterationKey struct{}

func withSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotKey{}, true)
}

func holdsSlot(ctx context.Context) bool {
	held, _ := ctx.Value(slotKey{}).(bool)
	return held
}

func withIteration(ctx context.Context, i int) context.Context {
	return context.WithValue(ctx, iterationKey{}, i)
}

func iterationFrom(ctx context.Context) int {
	i, _ := ctx.Value(iterationKey{}).(int)
	return i
}

// fork schedules fn on g under the run's concurrency limit. A caller that
// already holds a slot runs fn inline when none is free, so nested fan-out
// cannot starve the limiter. The inline result is returned directly.
func (r *run) fork(ctx context.Context, g *errgroup.Group, fn func(context.Context) error) error {
	if r.limiter.TryAcquire() {
		g.Go(func() error {
			defer r.limiter.Release()
			return fn(withSlot(ctx))
		})
		return nil
	}
	if holdsSlot(ctx) {
		r.limiter.RecordInline()
		return fn(ctx)
	}
	if err := r.limiter.Acquire(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		defer r.limiter.Release()
		return fn(withSlot(ctx))
	})
	return nil
}

// spawn starts fn on g and returns at once. The slot is taken inside the
// new goroutine. When none is free and the caller holds one, fn shares the
// caller's slot instead of waiting for a slot the caller may never release.
func (r *run) spawn(ctx context.Context, g *errgroup.Group, fn func(context.Context) error) {
	shared := holdsSlot(ctx)
	g.Go(func() error {
		if r.limiter.TryAcquire() {
			defer r.limiter.Release()
			return fn(withSlot(ctx))
		}
		if shared {
			r.limiter.RecordInline()
			return fn(ctx)
		}
		if err := r.limiter.Acquire(ctx); err != nil {
			return err
		}
		defer r.limiter.Release()
		return fn(withSlot(ctx))
	})
}

// parallel runs tasks concurrently and returns the first real failure.
// Cancellations caused by a failing sibling are not reported over it.
func (r *run) parallel(ctx context.Context, tasks []func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var inlineErr error
	for _, task := range tasks {
		if err := r.fork(gctx, g, task); err != nil {
			inlineErr = err
			cancel()
			break
		}
	}

	waitErr := g.Wait()
	switch {
	case inlineErr == nil:
		return waitErr
	case waitErr == nil:
		return inlineErr
	case daerrors.IsCancellation(inlineErr):
		return waitErr
	default:
		return inlineErr
	}
}
