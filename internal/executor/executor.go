package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Executor is the only component that spawns processes. Every CreateJob is
// queued to a single dispatch goroutine, so no two spawns ever overlap.
type Executor struct {
	cfg     Config
	log     zerolog.Logger
	metrics Metrics

	pending  chan *Request
	activity chan Event
	manager  *Manager
	tracer   *Tracer
	seq      atomic.Uint64

	// spawn is swapped in tests to observe dispatch ordering.
	spawn func(*Request) (*Handle, error)

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopping  chan struct{}
	stopped   chan struct{}
}

// New builds an executor with its manager and tracer. Call Start before
// submitting jobs and Stop exactly at shutdown.
func New(cfg Config, logger zerolog.Logger) *Executor {
	cfg = cfg.WithDefaults()
	activity := make(chan Event, cfg.ActivityBuffer)
	e := &Executor{
		cfg:      cfg,
		log:      logger,
		metrics:  cfg.Metrics,
		pending:  make(chan *Request, cfg.QueueSize),
		activity: activity,
		manager:  NewManager(cfg, logger.With().Str("loop", "manager").Logger()),
		tracer:   NewTracer(activity, cfg, logger.With().Str("loop", "tracer").Logger()),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	e.spawn = func(req *Request) (*Handle, error) {
		return newHandle(req, e.cfg, e.publish, e.log)
	}
	return e
}

// Start launches the dispatch, manager and tracer goroutines.
func (e *Executor) Start() {
	e.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.wg.Add(3)
		go func() {
			defer e.wg.Done()
			e.dispatchLoop(ctx)
		}()
		go func() {
			defer e.wg.Done()
			e.manager.Run(ctx)
		}()
		go func() {
			defer e.wg.Done()
			e.tracer.Run(ctx)
		}()
		e.log.Info().Int("queue", e.cfg.QueueSize).Msg("executor started")
	})
}

// CreateJob queues job and blocks until the dispatch goroutine has spawned
// it. The initial owner is OwnerFrom(ctx). A spawn failure is returned as an
// error matching ErrSpawnFailed; no process exists in that case.
func (e *Executor) CreateJob(ctx context.Context, job Job) (*Handle, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	select {
	case <-e.stopping:
		return nil, ErrExecutorStopped
	default:
	}

	req := newRequest(e.seq.Add(1), job, OwnerFrom(ctx))
	e.log.Debug().
		Uint64("request", req.ID()).
		Str("owner", string(req.Owner())).
		Str("command", job.CommandLine()).
		Msg("job requested")

	select {
	case e.pending <- req:
	case <-e.stopping:
		return nil, ErrExecutorStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.handle, res.err
	case <-e.stopped:
		select {
		case res := <-req.reply:
			return res.handle, res.err
		default:
			return nil, ErrExecutorStopped
		}
	}
}

// Popen is CreateJob with the job spelled out.
func (e *Executor) Popen(ctx context.Context, command []string, discardOutput, managed bool) (*Handle, error) {
	return e.CreateJob(ctx, Job{Command: command, DiscardOutput: discardOutput, Managed: managed})
}

// ChildrenOf returns the live handles owned by owner.
func (e *Executor) ChildrenOf(owner Owner) []*Handle {
	return e.tracer.ChildrenOf(owner)
}

// Manager exposes the managed registry for pid lookups and disposal.
func (e *Executor) Manager() *Manager {
	return e.manager
}

// Tracer exposes the ownership tracer.
func (e *Executor) Tracer() *Tracer {
	return e.tracer
}

// Stop fails queued requests, stops every loop and kills every tracked
// process. It blocks until all of them are dead.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.log.Info().Msg("executor stopping")
		close(e.stopping)
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.failPending()
		e.manager.Stop()
		e.tracer.Stop()
		close(e.stopped)
		e.log.Info().Msg("executor stopped")
	})
}

func (e *Executor) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.pending:
			if ctx.Err() != nil {
				// Stop raced the dequeue; nothing may spawn past this point.
				req.reply <- spawnResult{err: ErrExecutorStopped}
				return
			}
			e.dispatch(req)
		}
	}
}

func (e *Executor) dispatch(req *Request) {
	job := req.Job()
	h, err := e.spawn(req)
	if err != nil {
		err = pkgerrors.WithStack(fmt.Errorf("%w: %s: %w", ErrSpawnFailed, job.CommandLine(), err))
		e.log.Error().
			Stack().
			Err(err).
			Uint64("request", req.ID()).
			Str("owner", string(req.Owner())).
			Msg("spawn failed")
		e.metrics.Spawned(false)
		e.publish(Event{Kind: EventSpawnFailed, Request: req, Err: err, Time: time.Now()})
		req.reply <- spawnResult{err: err}
		return
	}

	e.metrics.Spawned(true)
	if job.Managed {
		// Managed jobs belong to the daemon, not to whoever asked.
		req.takeOwnership(e.cfg.WorkerOwner)
	}
	e.publish(Event{Kind: EventCreated, Handle: h, Request: req, Time: time.Now()})
	if job.Managed {
		e.manager.Add(h)
	}
	req.reply <- spawnResult{handle: h}
}

func (e *Executor) failPending() {
	for {
		select {
		case req := <-e.pending:
			req.reply <- spawnResult{err: ErrExecutorStopped}
		default:
			return
		}
	}
}

// publish delivers ev to the tracer. Once stopping, a full channel drops it.
func (e *Executor) publish(ev Event) {
	select {
	case e.activity <- ev:
		return
	case <-e.stopping:
	}
	select {
	case e.activity <- ev:
	default:
		e.log.Debug().Str("event", ev.Kind.String()).Msg("activity dropped during shutdown")
	}
}
