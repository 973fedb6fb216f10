package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Owner is the logical identity a process is grouped under. Submitters set
// it on the context with WithOwner; the tracer answers ChildrenOf by it.
type Owner string

const (
	OwnerUnknown Owner = "unknown"
	OwnerWorker  Owner = "executor.worker"
)

type ownerKey struct{}

// WithOwner returns ctx carrying owner for jobs submitted under it.
func WithOwner(ctx context.Context, owner Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner carried by ctx, or OwnerUnknown.
func OwnerFrom(ctx context.Context) Owner {
	if ctx == nil {
		return OwnerUnknown
	}
	owner, ok := ctx.Value(ownerKey{}).(Owner)
	if !ok || strings.TrimSpace(string(owner)) == "" {
		return OwnerUnknown
	}
	return owner
}

// Job describes one external command and its output/management policy.
type Job struct {
	Command       []string
	DiscardOutput bool
	Managed       bool
}

// NewJob builds an unmanaged, capturing job.
func NewJob(command ...string) Job {
	return Job{Command: command}
}

// Validate rejects a job without an executable.
func (j Job) Validate() error {
	if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
		return ErrEmptyCommand
	}
	return nil
}

// Name is the executable.
func (j Job) Name() string {
	if len(j.Command) == 0 {
		return ""
	}
	return j.Command[0]
}

// Arguments returns a copy of the arguments after the executable.
func (j Job) Arguments() []string {
	if len(j.Command) < 2 {
		return []string{}
	}
	out := make([]string, len(j.Command)-1)
	copy(out, j.Command[1:])
	return out
}

// CommandLine is a shell-quoted display form of the command.
func (j Job) CommandLine() string {
	var builder strings.Builder
	for i, arg := range j.Command {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(quoteArg(arg))
	}
	return builder.String()
}

func (j Job) clone() Job {
	out := j
	out.Command = append([]string(nil), j.Command...)
	return out
}

func quoteArg(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$`|&;<>()*?[]#~!{}") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// Request is one submitted job awaiting (or past) its spawn.
type Request struct {
	id        uint64
	job       Job
	submitted time.Time
	reply     chan spawnResult

	mu    sync.RWMutex
	owner Owner
}

type spawnResult struct {
	handle *Handle
	err    error
}

func newRequest(id uint64, job Job, owner Owner) *Request {
	return &Request{
		id:        id,
		job:       job.clone(),
		submitted: time.Now(),
		reply:     make(chan spawnResult, 1),
		owner:     owner,
	}
}

// ID is the submission sequence number.
func (r *Request) ID() uint64 {
	return r.id
}

// Job returns a copy of the submitted job.
func (r *Request) Job() Job {
	return r.job.clone()
}

// Submitted is when CreateJob accepted the request.
func (r *Request) Submitted() time.Time {
	return r.submitted
}

// Owner is the current logical owner; managed jobs report the worker.
func (r *Request) Owner() Owner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

func (r *Request) takeOwnership(owner Owner) {
	r.mu.Lock()
	r.owner = owner
	r.mu.Unlock()
}

func (r *Request) String() string {
	return fmt.Sprintf("request#%d(%s)", r.id, r.job.CommandLine())
}

// EventKind tags entries on the activity channel.
type EventKind int

const (
	// EventCreated is published by the dispatch worker after a spawn.
	EventCreated EventKind = iota
	// EventExited is published once per handle when its exit is first observed.
	EventExited
	// EventSpawnFailed carries the request and error of a failed spawn.
	EventSpawnFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventExited:
		return "exited"
	case EventSpawnFailed:
		return "spawn_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is one activity notification.
type Event struct {
	Kind    EventKind
	Handle  *Handle
	Request *Request
	Err     error
	Time    time.Time
}
