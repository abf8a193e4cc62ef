package task

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/lithammer/shortuuid/v4"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
)

// Task is one tracked unit of asynchronous work. A handler creates it,
// exactly one background goroutine mutates it, and the report endpoint reads
// it. All mutation goes through the methods below, which serialize access
// under the task's own mutex.
type Task struct {
	mu sync.Mutex

	id              string
	appID           string
	taskType        string
	data            any
	result          any
	status          Status
	progress        int
	message         string
	messageDetailed string

	// Cancellation handle for the owning operation. Never serialized.
	cancel context.CancelFunc
	killed bool
}

// Record is the wire representation of a task, safe to hand to the GUI.
// The cancellation handle is deliberately absent.
type Record struct {
	TaskID          string `json:"task_id"`
	AppID           string `json:"app_id"`
	TaskType        string `json:"task_type"`
	Data            any    `json:"data"`
	Result          any    `json:"result"`
	Status          Status `json:"status"`
	Progress        int    `json:"progress"`
	Message         string `json:"message"`
	MessageDetailed string `json:"message_detailed,omitempty"`
}

// New builds a task in the created state. An empty id gets a generated one;
// a caller-supplied id is kept verbatim (the GUI pre-generates ids for tasks
// it wants to correlate before the response arrives).
func New(id, appID, taskType string, data any) *Task {
	if id == "" {
		id = shortuuid.New()
	}
	return &Task{
		id:       id,
		appID:    appID,
		taskType: taskType,
		data:     data,
		status:   StatusCreated,
	}
}

// NewMessage builds an already-finished task carrying a user-facing notice,
// e.g. a skipped download directory. The GUI renders Result["text"] verbatim.
func NewMessage(appID, text string) *Task {
	t := New("", appID, "message", nil)
	t.result = map[string]string{"text": text}
	t.status = StatusFinished
	t.progress = 100
	t.message = text
	return t
}

func (t *Task) ID() string       { return t.id }
func (t *Task) AppID() string    { return t.appID }
func (t *Task) TaskType() string { return t.taskType }

// Data returns the input payload the task was created with. The payload is
// immutable after creation; follow-up tasks reuse it for retries.
func (t *Task) Data() any { return t.data }

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// AttachCancel hands the task ownership of its operation's cancel handle.
func (t *Task) AttachCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
	if t.killed && cancel != nil {
		cancel()
	}
}

// Kill requests cooperative cancellation. The operation observes the flag
// (or its context) at its next suspension point and terminates the task
// itself; Kill never changes the status directly.
func (t *Task) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killed = true
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Task) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// Progress updates the progress percentage and, when non-empty, the short
// message. Calls after the task reached a terminal status are dropped; a
// finished task must look the same on every later read.
func (t *Task) Progress(progress int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusCreated {
		return
	}
	t.progress = progress
	if message != "" {
		t.message = message
	}
}

// SetResult stores the operation's output payload.
func (t *Task) SetResult(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusCreated {
		return
	}
	t.result = result
}

// Finished moves the task to its terminal success state.
func (t *Task) Finished(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusCreated {
		return
	}
	t.status = StatusFinished
	t.progress = 100
	t.message = message
}

// Error moves the task to its terminal error state. The short message is
// tagged with the caller's source location so near-identical failures across
// handlers stay distinguishable in bug reports; detailed goes to logs only.
func (t *Task) Error(message, detailed string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusCreated {
		return
	}
	t.status = StatusError
	t.message = fmt.Sprintf("%s (%s)", message, callsite())
	t.messageDetailed = detailed
}

// Terminal reports whether the task reached finished or error.
func (t *Task) Terminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusFinished || t.status == StatusError
}

// Snapshot returns a consistent wire-ready copy of the task.
func (t *Task) Snapshot() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Record{
		TaskID:          t.id,
		AppID:           t.appID,
		TaskType:        t.taskType,
		Data:            t.data,
		Result:          t.result,
		Status:          t.status,
		Progress:        t.progress,
		Message:         t.message,
		MessageDetailed: t.messageDetailed,
	}
}

func callsite() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
