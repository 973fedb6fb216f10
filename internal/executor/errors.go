package executor

import "errors"

var (
	ErrEmptyCommand    = errors.New("executor: empty command")
	ErrSpawnFailed     = errors.New("executor: spawn failed")
	ErrExecutorStopped = errors.New("executor: stopped")
	ErrProcessNotFound = errors.New("executor: process not found")
	ErrProcessRunning  = errors.New("executor: process still running")
	ErrCommandFailed   = errors.New("executor: command failed")
)
