package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/execd/internal/executor"
	"github.com/danmuck/execd/internal/tasks"
	"github.com/danmuck/execd/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Name,
			"version": version,
		}
		if load, err := readHostLoad(); err == nil {
			body["load"] = load
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		running, closed := s.exec.Manager().Counts()
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.Name,
			"version": version,
			"running": running,
			"closed":  closed,
			"tracked": s.exec.Tracer().Alive(),
		})
	})

	r.GET("/processes", s.listProcesses)
	r.POST("/processes", s.guard, s.createProcess)
	r.GET("/processes/:pid", s.getProcess)
	r.DELETE("/processes/:pid", s.guard, s.deleteProcess)

	r.GET("/tasks", s.listTasks)
	r.POST("/tasks", s.guard, s.createTask)
	r.GET("/tasks/:id", s.getTask)
	r.DELETE("/tasks/:id", s.guard, s.forgetTask)
}

type createProcessRequest struct {
	Command       string   `json:"command" binding:"required"`
	Arguments     []string `json:"arguments"`
	DiscardOutput bool     `json:"discard_output"`
}

type processView struct {
	Pid        int        `json:"pid"`
	Command    string     `json:"command"`
	Arguments  []string   `json:"arguments"`
	Status     string     `json:"status"`
	ReturnCode *int       `json:"returncode"`
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	Owner      string     `json:"owner"`
	Started    time.Time  `json:"started"`
	Stats      *procStats `json:"stats,omitempty"`
}

func viewProcess(h *executor.Handle) processView {
	job := h.Request().Job()
	view := processView{
		Pid:       h.Pid(),
		Command:   job.Name(),
		Arguments: job.Arguments(),
		Status:    h.State().String(),
		Stdout:    string(h.Stdout().Bytes()),
		Stderr:    string(h.Stderr().Bytes()),
		Owner:     string(h.Request().Owner()),
		Started:   h.Started(),
	}
	if code, ok := h.ReturnCode(); ok {
		view.ReturnCode = &code
	}
	return view
}

func (s *Server) listProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": s.exec.Manager().Keys()})
}

func (s *Server) createProcess(c *gin.Context) {
	var req createProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	command := append([]string{req.Command}, req.Arguments...)
	ctx := executor.WithOwner(c.Request.Context(), executor.Owner("http."+c.ClientIP()))
	h, err := s.exec.CreateJob(ctx, executor.Job{
		Command:       command,
		DiscardOutput: req.DiscardOutput,
		Managed:       true,
	})
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pid": h.Pid()})
}

func (s *Server) getProcess(c *gin.Context) {
	h, ok := s.lookupProcess(c)
	if !ok {
		return
	}
	view := viewProcess(h)
	if s.exec.Manager().IsRunning(h.Pid()) {
		if stats, err := readProcStats(h.Pid()); err == nil {
			view.Stats = stats
		}
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) deleteProcess(c *gin.Context) {
	h, ok := s.lookupProcess(c)
	if !ok {
		return
	}
	m := s.exec.Manager()
	if m.IsRunning(h.Pid()) {
		h.Kill()
		code, _ := h.ReturnCode()
		c.JSON(http.StatusOK, gin.H{"pid": h.Pid(), "status": "killed", "returncode": code})
		return
	}
	if err := m.Dispose(h.Pid()); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": h.Pid(), "status": "disposed"})
}

func (s *Server) lookupProcess(c *gin.Context) (*executor.Handle, bool) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pid"})
		return nil, false
	}
	h, ok := s.exec.Manager().Get(pid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%v: %d", executor.ErrProcessNotFound, pid)})
		return nil, false
	}
	return h, true
}

type createTaskRequest struct {
	Name     string     `json:"name" binding:"required"`
	Commands [][]string `json:"commands" binding:"required,min=1"`
}

type taskView struct {
	tasks.Snapshot
	Children []int `json:"children"`
}

func (s *Server) viewTask(task *tasks.Task) taskView {
	children, _ := s.tasks.Children(task.ID())
	pids := make([]int, 0, len(children))
	for _, h := range children {
		pids = append(pids, h.Pid())
	}
	return taskView{Snapshot: task.Snapshot(), Children: pids}
}

func (s *Server) listTasks(c *gin.Context) {
	list := s.tasks.List()
	out := make([]tasks.Snapshot, 0, len(list))
	for _, task := range list {
		out = append(out, task.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// createTask runs the commands one after another under a new task; the first
// failure ends it. The task result is their combined stdout.
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i, command := range req.Commands {
		if err := (executor.Job{Command: command}).Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("commands[%d]: %v", i, err)})
			return
		}
	}
	commands := req.Commands
	runner := tools.ExecRunner{Runner: s.exec}
	task := s.tasks.Go(req.Name, func(ctx context.Context) (string, error) {
		var out strings.Builder
		for _, command := range commands {
			res, err := runner.Run(ctx, command[0], command[1:]...)
			out.Write(res.Stdout)
			if err != nil {
				return out.String(), err
			}
			if res.ReturnCode != 0 {
				return out.String(), fmt.Errorf("%w: %s: exit %d",
					executor.ErrCommandFailed, executor.Job{Command: command}.CommandLine(), res.ReturnCode)
			}
		}
		return out.String(), nil
	})
	c.JSON(http.StatusAccepted, gin.H{"id": task.ID()})
}

func (s *Server) getTask(c *gin.Context) {
	task, ok := s.tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%v: %s", tasks.ErrTaskNotFound, c.Param("id"))})
		return
	}
	c.JSON(http.StatusOK, s.viewTask(task))
}

func (s *Server) forgetTask(c *gin.Context) {
	if err := s.tasks.Forget(c.Param("id")); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": "forgotten"})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, executor.ErrProcessNotFound), errors.Is(err, tasks.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrProcessRunning), errors.Is(err, tasks.ErrTaskRunning):
		return http.StatusConflict
	case errors.Is(err, executor.ErrExecutorStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, executor.ErrSpawnFailed), errors.Is(err, executor.ErrEmptyCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
