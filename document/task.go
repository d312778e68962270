package document

import (
	"encoding/json"
	"strings"
	"time"
)

// ParseStatus is the lifecycle state of a ParsingTask.
type ParseStatus string

const (
	StatusReceived  ParseStatus = "received"
	StatusRunning   ParseStatus = "running"
	StatusSucceeded ParseStatus = "succeeded"
	StatusFailed    ParseStatus = "failed"
	StatusCancelled ParseStatus = "cancelled"
)

// transitions is the full table; statuses missing a target set are terminal.
var transitions = map[ParseStatus]map[ParseStatus]bool{
	StatusReceived:  {StatusRunning: true, StatusCancelled: true},
	StatusRunning:   {StatusSucceeded: true, StatusFailed: true, StatusCancelled: true},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to ParseStatus) bool { return transitions[from][to] }

// Terminal reports whether no transition leaves s.
func (s ParseStatus) Terminal() bool { return len(transitions[s]) == 0 }

// ParsingRequest is the immutable input of a ParsingTask.
type ParsingRequest struct {
	TaskID      TaskID       `json:"task_id"`
	Source      Source       `json:"source"`
	Options     ParseOptions `json:"options"`
	RequestedAt time.Time    `json:"requested_at"`
}

// NewParsingRequest validates the request and stamps RequestedAt.
func NewParsingRequest(id TaskID, source Source, opts ParseOptions) (ParsingRequest, error) {
	if id == "" {
		return ParsingRequest{}, Invalid("task_id", "cannot be empty")
	}
	if source.URI == "" {
		return ParsingRequest{}, Invalid("source", "document source URI cannot be empty")
	}
	if err := opts.Validate(); err != nil {
		return ParsingRequest{}, err
	}
	return ParsingRequest{TaskID: id, Source: source, Options: opts, RequestedAt: time.Now().UTC()}, nil
}

// ParsingTask tracks one document through parsing. Every mutator consults the
// transition table and fails with *IllegalTransitionError when it forbids the
// move; there are no silent no-ops.
type ParsingTask struct {
	request     ParsingRequest
	status      ParseStatus
	document    *Document
	startedAt   time.Time
	completedAt time.Time
	errMessage  string
}

// NewParsingTask returns a task in StatusReceived.
func NewParsingTask(req ParsingRequest) *ParsingTask {
	return &ParsingTask{request: req, status: StatusReceived}
}

func (t *ParsingTask) Request() ParsingRequest { return t.request }
func (t *ParsingTask) Status() ParseStatus     { return t.status }

// Document is nil until the task succeeds.
func (t *ParsingTask) Document() *Document { return t.document }

// StartedAt is zero until Start.
func (t *ParsingTask) StartedAt() time.Time { return t.startedAt }

// CompletedAt is zero until the task reaches a terminal status.
func (t *ParsingTask) CompletedAt() time.Time { return t.completedAt }

// ErrorMessage is empty unless the task failed.
func (t *ParsingTask) ErrorMessage() string { return t.errMessage }

// Start moves RECEIVED -> RUNNING.
func (t *ParsingTask) Start() error {
	if err := t.ensure(StatusRunning); err != nil {
		return err
	}
	t.status = StatusRunning
	t.startedAt = time.Now().UTC()
	return nil
}

// Complete moves RUNNING -> SUCCEEDED and attaches doc.
func (t *ParsingTask) Complete(doc *Document) error {
	if err := t.ensure(StatusSucceeded); err != nil {
		return err
	}
	if doc == nil {
		return Invalid("document", "cannot be nil")
	}
	t.status = StatusSucceeded
	t.document = doc
	t.markCompleted()
	return nil
}

// Fail moves RUNNING -> FAILED. message must be non-blank.
func (t *ParsingTask) Fail(message string) error {
	if err := t.ensure(StatusFailed); err != nil {
		return err
	}
	if strings.TrimSpace(message) == "" {
		return Invalid("error_message", "cannot be empty")
	}
	t.status = StatusFailed
	t.errMessage = message
	t.markCompleted()
	return nil
}

// Cancel moves RECEIVED or RUNNING -> CANCELLED.
func (t *ParsingTask) Cancel() error {
	if err := t.ensure(StatusCancelled); err != nil {
		return err
	}
	t.status = StatusCancelled
	t.markCompleted()
	return nil
}

func (t *ParsingTask) ensure(target ParseStatus) error {
	if !CanTransition(t.status, target) {
		return &IllegalTransitionError{From: t.status, To: target}
	}
	return nil
}

func (t *ParsingTask) markCompleted() { t.completedAt = time.Now().UTC() }

func (t *ParsingTask) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Request     ParsingRequest `json:"request"`
		Status      ParseStatus    `json:"status"`
		Document    *Document      `json:"document,omitempty"`
		StartedAt   *time.Time     `json:"started_at,omitempty"`
		CompletedAt *time.Time     `json:"completed_at,omitempty"`
		Error       string         `json:"error_message,omitempty"`
	}{
		Request:     t.request,
		Status:      t.status,
		Document:    t.document,
		StartedAt:   optionalTime(t.startedAt),
		CompletedAt: optionalTime(t.completedAt),
		Error:       t.errMessage,
	})
}

func optionalTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	return &ts
}
