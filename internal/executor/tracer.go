package executor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Tracer keeps every live handle, managed or not, keyed by pid, fed by the
// activity channel. It answers ChildrenOf and kills everything left on Stop.
type Tracer struct {
	activity <-chan Event
	log      zerolog.Logger
	metrics  Metrics

	mu    sync.Mutex
	alive map[int]*Handle

	syncReq  chan chan struct{}
	looping  atomic.Bool
	loopDone chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

func NewTracer(activity <-chan Event, cfg Config, logger zerolog.Logger) *Tracer {
	cfg = cfg.WithDefaults()
	return &Tracer{
		activity: activity,
		log:      logger,
		metrics:  cfg.Metrics,
		alive:    make(map[int]*Handle),
		syncReq:  make(chan chan struct{}),
		loopDone: make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Run consumes activity until ctx is done or Stop is called.
func (t *Tracer) Run(ctx context.Context) {
	t.looping.Store(true)
	defer close(t.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case ev := <-t.activity:
			t.observe(ev)
		case done := <-t.syncReq:
			t.flush()
			close(done)
		}
	}
}

// sync returns once every event published before the call is folded in.
func (t *Tracer) sync() {
	if !t.looping.Load() {
		t.flush()
		return
	}
	done := make(chan struct{})
	select {
	case t.syncReq <- done:
		<-done
	case <-t.loopDone:
		t.flush()
	}
}

func (t *Tracer) observe(ev Event) {
	if ev.Kind == EventSpawnFailed || ev.Handle == nil {
		return
	}
	h := ev.Handle
	pid := h.Pid()

	t.mu.Lock()
	if _, exited := h.ReturnCode(); !exited {
		t.alive[pid] = h
	} else if t.alive[pid] == h {
		delete(t.alive, pid)
	}
	alive := len(t.alive)
	t.mu.Unlock()
	t.metrics.Tracked(alive)
}

// ChildrenOf returns the tracked handles owned by owner, ordered by pid. It
// reflects every creation and observed exit published before the call.
func (t *Tracer) ChildrenOf(owner Owner) []*Handle {
	t.sync()
	t.mu.Lock()
	out := make([]*Handle, 0)
	for _, h := range t.alive {
		if h.Request().Owner() == owner {
			out = append(out, h)
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Pid() < out[j].Pid() })
	return out
}

// Alive is the number of tracked handles.
func (t *Tracer) Alive() int {
	t.sync()
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.alive)
}

// Stop ends the loop, folds in any activity still queued, and kills every
// tracked process. It returns once all of them are dead.
func (t *Tracer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.flush()

	t.mu.Lock()
	victims := make([]*Handle, 0, len(t.alive))
	for _, h := range t.alive {
		victims = append(victims, h)
	}
	t.alive = make(map[int]*Handle)
	t.mu.Unlock()
	t.metrics.Tracked(0)

	if len(victims) == 0 {
		return
	}
	t.log.Info().Int("count", len(victims)).Msg("killing tracked processes")
	var wg sync.WaitGroup
	for _, h := range victims {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.Kill()
		}(h)
	}
	wg.Wait()
	t.flush()
}

func (t *Tracer) flush() {
	for {
		select {
		case ev := <-t.activity:
			t.observe(ev)
		default:
			return
		}
	}
}
