// Package tasks runs named background functions, each under its own executor
// owner, and kills whatever processes a task leaves behind when it returns.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/execd/internal/executor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTaskNotFound = errors.New("tasks: task not found")
	ErrTaskRunning  = errors.New("tasks: task still running")
)

type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateReturned State = "returned"
	StateFailed   State = "failed"
	StateClosed   State = "closed"
)

// Func is the body of a task. Processes it starts through the context's
// owner are reaped once it returns.
type Func func(ctx context.Context) (string, error)

type Task struct {
	id    string
	name  string
	owner executor.Owner
	done  chan struct{}

	mu      sync.RWMutex
	state   State
	started time.Time
	ended   time.Time
	result  string
	err     string
	reaped  int
}

func (t *Task) ID() string {
	return t.id
}

func (t *Task) Name() string {
	return t.name
}

// Owner is the executor owner every process of this task is created under.
func (t *Task) Owner() executor.Owner {
	return t.owner
}

// Done is closed once the task is closed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Task) Started() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.started
}

// Snapshot is a point-in-time view used by the HTTP layer.
type Snapshot struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	State   State      `json:"state"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
	Result  string     `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
	Reaped  int        `json:"reaped"`
}

func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := Snapshot{
		ID:      t.id,
		Name:    t.name,
		State:   t.state,
		Started: t.started,
		Result:  t.result,
		Error:   t.err,
		Reaped:  t.reaped,
	}
	if !t.ended.IsZero() {
		ended := t.ended
		out.Ended = &ended
	}
	return out
}

func (t *Task) setState(state State) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// Scheduler owns the task table. Tasks stay listed after they close until
// Forget removes them.
type Scheduler struct {
	runner executor.Runner
	log    zerolog.Logger

	mu    sync.RWMutex
	tasks map[string]*Task

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewScheduler(runner executor.Runner, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: runner,
		log:    logger,
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go starts fn in its own goroutine. The context it receives carries the
// task owner and is cancelled by Stop.
func (s *Scheduler) Go(name string, fn Func) *Task {
	id := uuid.NewString()
	task := &Task{
		id:      id,
		name:    name,
		owner:   executor.Owner("task." + id),
		done:    make(chan struct{}),
		state:   StateCreated,
		started: time.Now(),
	}

	s.mu.Lock()
	s.tasks[id] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(task, fn)
	}()
	return task
}

func (s *Scheduler) run(task *Task, fn Func) {
	log := s.log.With().Str("task", task.id).Str("name", task.name).Logger()
	task.setState(StateRunning)
	log.Debug().Msg("task running")

	result, err := invoke(executor.WithOwner(s.ctx, task.owner), fn)

	task.mu.Lock()
	task.result = result
	if err != nil {
		task.err = err.Error()
		task.state = StateFailed
	} else {
		task.state = StateReturned
	}
	task.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("task failed")
	}

	orphans := s.runner.ChildrenOf(task.owner)
	if len(orphans) > 0 {
		log.Info().Int("count", len(orphans)).Msg("killing orphaned processes")
	}
	var wg sync.WaitGroup
	for _, h := range orphans {
		wg.Add(1)
		go func(h *executor.Handle) {
			defer wg.Done()
			h.Kill()
			if err := h.Close(); err != nil {
				log.Debug().Int("pid", h.Pid()).Err(err).Msg("close orphan streams")
			}
		}(h)
	}
	wg.Wait()

	task.mu.Lock()
	task.reaped = len(orphans)
	task.state = StateClosed
	task.ended = time.Now()
	task.mu.Unlock()
	close(task.done)
	log.Debug().Msg("task closed")
}

func invoke(ctx context.Context, fn Func) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	return task, ok
}

// List returns every retained task, oldest first.
func (s *Scheduler) List() []*Task {
	s.mu.RLock()
	out := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started().Equal(out[j].Started()) {
			return out[i].id < out[j].id
		}
		return out[i].Started().Before(out[j].Started())
	})
	return out
}

// Children returns the live processes a task currently owns.
func (s *Scheduler) Children(id string) ([]*executor.Handle, error) {
	task, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return s.runner.ChildrenOf(task.owner), nil
}

// Forget drops a closed task.
func (s *Scheduler) Forget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.State() != StateClosed {
		return fmt.Errorf("%w: %s", ErrTaskRunning, id)
	}
	delete(s.tasks, id)
	return nil
}

// Stop cancels every task context and waits for all tasks to close.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}
