// Package tasks implements the lifecycle of a message-sending task: session
// acquisition, the paced send loop over a cyclic message queue, bounded
// retries, restarts after session faults and the persisted shape used to
// resume a task after the process restarts.
//
// All work of a task is driven by one scheduled action at a time. Every
// callback captures the epoch it was scheduled in; Stop and Restart bump the
// epoch so that stale callbacks and in-flight gateway results are discarded.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guido-cesarano/looprelay/pkg/clock"
	"github.com/guido-cesarano/looprelay/pkg/events"
	"github.com/guido-cesarano/looprelay/pkg/gateway"
	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/guido-cesarano/looprelay/pkg/template"
	"github.com/rs/zerolog"
)

// Limits are the retry, restart and liveness bounds of a task.
type Limits struct {
	MaxLoginRetries int
	LoginRetryDelay time.Duration
	MaxSendRetries  int
	SendRetryDelay  time.Duration
	MaxRestarts     int
	RestartDelay    time.Duration
	StaleAfter      time.Duration
	LogRingSize     int
	CallTimeout     time.Duration
}

// DefaultLimits returns the production bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxLoginRetries: 50,
		LoginRetryDelay: 30 * time.Second,
		MaxSendRetries:  10,
		SendRetryDelay:  5 * time.Second,
		MaxRestarts:     1000,
		RestartDelay:    10 * time.Second,
		StaleAfter:      5 * time.Minute,
		LogRingSize:     100,
		CallTimeout:     2 * time.Minute,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxLoginRetries <= 0 {
		l.MaxLoginRetries = d.MaxLoginRetries
	}
	if l.LoginRetryDelay <= 0 {
		l.LoginRetryDelay = d.LoginRetryDelay
	}
	if l.MaxSendRetries <= 0 {
		l.MaxSendRetries = d.MaxSendRetries
	}
	if l.SendRetryDelay <= 0 {
		l.SendRetryDelay = d.SendRetryDelay
	}
	if l.MaxRestarts <= 0 {
		l.MaxRestarts = d.MaxRestarts
	}
	if l.RestartDelay <= 0 {
		l.RestartDelay = d.RestartDelay
	}
	if l.StaleAfter <= 0 {
		l.StaleAfter = d.StaleAfter
	}
	if l.LogRingSize <= 0 {
		l.LogRingSize = d.LogRingSize
	}
	if l.CallTimeout <= 0 {
		l.CallTimeout = d.CallTimeout
	}
	return l
}

// Vault stores the raw credential of a task for the gateway's consumption.
type Vault interface {
	Put(ctx context.Context, taskID, credential string) error
	Get(ctx context.Context, taskID string) (string, error)
	Delete(ctx context.Context, taskID string) error
}

// Sink receives task events.
type Sink interface {
	Publish(events.Event)
}

// Deps are the collaborators of a Task.
type Deps struct {
	Gateway gateway.Gateway
	Vault   Vault
	Sink    Sink
	Clock   clock.Clock
	Limits  Limits
	// OnStop is called after a successful Stop, outside the task lock.
	OnStop func(taskID string)
}

// Spec is the user supplied configuration of a new task.
type Spec struct {
	Credential   string
	Destination  string
	Body         string
	Prefix       string
	Suffix       string
	DelaySeconds int
}

// Stats are the counters reported by Inspect and persisted in snapshots.
type Stats struct {
	Sent          int64     `json:"sent"`
	Failed        int64     `json:"failed"`
	Loops         int64     `json:"loops"`
	Restarts      int64     `json:"restarts"`
	ActiveSession bool      `json:"activeSession"`
	LastSuccess   time.Time `json:"lastSuccess,omitzero"`
}

// Task is one message-sending job.
type Task struct {
	id          string
	destination string
	delay       time.Duration
	prefix      string
	suffix      string
	queue       []string
	createdAt   time.Time

	gw     gateway.Gateway
	vault  Vault
	sink   Sink
	clock  clock.Clock
	limits Limits
	onStop func(string)
	log    zerolog.Logger

	mu           sync.Mutex
	credential   string
	state        State
	running      bool
	session      gateway.Session
	describeDue  bool
	cursor       int
	loopCount    int64
	retryCount   int
	restartCount int
	stats        Stats
	logs         *logRing
	lastActivity time.Time
	startedAt    time.Time
	epoch        uint64
	next         clock.Timer
}

// New builds a task from a start command. The message body is expanded once
// here; an empty result is reported by Start.
func New(id string, spec Spec, deps Deps) *Task {
	t := newTask(id, deps)
	t.credential = spec.Credential
	t.destination = spec.Destination
	t.prefix = spec.Prefix
	t.suffix = spec.Suffix
	t.delay = time.Duration(template.CoerceDelay(spec.DelaySeconds)) * time.Second

	queue, err := template.Expand(spec.Body, spec.Prefix, spec.Suffix)
	if err == nil {
		t.queue = queue
	}
	t.mu.Lock()
	t.logLocked(SeverityInfo, "Loaded %d formatted messages", len(t.queue))
	t.mu.Unlock()
	return t
}

func newTask(id string, deps Deps) *Task {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	limits := deps.Limits.withDefaults()
	now := clk.Now()
	return &Task{
		id:           id,
		gw:           deps.Gateway,
		vault:        deps.Vault,
		sink:         deps.Sink,
		clock:        clk,
		limits:       limits,
		onStop:       deps.OnStop,
		log:          logger.Log.With().Str("task_id", id).Logger(),
		state:        StateCreated,
		logs:         newLogRing(limits.LogRingSize),
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Destination returns the opaque send target.
func (t *Task) Destination() string { return t.destination }

// Delay returns the pacing between sends.
func (t *Task) Delay() time.Duration { return t.delay }

// Messages returns a copy of the expanded send queue.
func (t *Task) Messages() []string { return append([]string(nil), t.queue...) }

// Running reports whether the task keeps scheduling work.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cursor returns the index of the next message and the completed loop count.
func (t *Task) Cursor() (index int, loops int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor, t.loopCount
}

// Counters returns the login retry and restart counters.
func (t *Task) Counters() (retries, restarts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount, t.restartCount
}

// Stats returns a copy of the task statistics.
func (t *Task) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// HasSession reports whether a session handle is held.
func (t *Task) HasSession() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session != nil
}

// Snapshot is a read-only view of a task for the inspect command.
type Snapshot struct {
	TaskID       string        `json:"taskId"`
	State        State         `json:"state"`
	Running      bool          `json:"running"`
	Destination  string        `json:"destination"`
	DelaySeconds int           `json:"delaySeconds"`
	Messages     int           `json:"messages"`
	CurrentIndex int           `json:"currentIndex"`
	LoopCount    int64         `json:"loops"`
	RetryCount   int           `json:"retryCount"`
	RestartCount int           `json:"restartCount"`
	Stats        Stats         `json:"stats"`
	Logs         []LogEntry    `json:"logs"`
	CreatedAt    time.Time     `json:"createdAt"`
	StartedAt    time.Time     `json:"startedAt,omitzero"`
	LastActivity time.Time     `json:"lastActivity"`
	Uptime       time.Duration `json:"uptime"`
}

// Snapshot returns the current stats and recent logs, newest first.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var uptime time.Duration
	if t.running && !t.startedAt.IsZero() {
		uptime = t.clock.Now().Sub(t.startedAt)
	}
	return Snapshot{
		TaskID:       t.id,
		State:        t.state,
		Running:      t.running,
		Destination:  t.destination,
		DelaySeconds: int(t.delay / time.Second),
		Messages:     len(t.queue),
		CurrentIndex: t.cursor,
		LoopCount:    t.loopCount,
		RetryCount:   t.retryCount,
		RestartCount: t.restartCount,
		Stats:        t.stats,
		Logs:         t.logs.recent(0),
		CreatedAt:    t.createdAt,
		StartedAt:    t.startedAt,
		LastActivity: t.lastActivity,
		Uptime:       uptime,
	}
}

// Record is the persisted shape of a running task. It never carries the
// credential or the live session.
type Record struct {
	ID           string     `json:"id"`
	Destination  string     `json:"destination"`
	DelaySeconds int        `json:"delaySeconds"`
	Messages     []string   `json:"messages"`
	Prefix       string     `json:"prefix,omitempty"`
	Suffix       string     `json:"suffix,omitempty"`
	CurrentIndex int        `json:"currentIndex"`
	LoopCount    int64      `json:"loopCount"`
	RestartCount int        `json:"restartCount"`
	Stats        Stats      `json:"stats"`
	Logs         []LogEntry `json:"logs,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Record captures the persisted shape with at most maxLogs recent log lines.
func (t *Task) Record(maxLogs int) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.stats
	stats.ActiveSession = false
	return Record{
		ID:           t.id,
		Destination:  t.destination,
		DelaySeconds: int(t.delay / time.Second),
		Messages:     append([]string(nil), t.queue...),
		Prefix:       t.prefix,
		Suffix:       t.suffix,
		CurrentIndex: t.cursor,
		LoopCount:    t.loopCount,
		RestartCount: t.restartCount,
		Stats:        stats,
		Logs:         t.logs.recent(maxLogs),
		CreatedAt:    t.createdAt,
	}
}

// Restore rebuilds a task from a persisted record. The task is marked
// running so that Resume picks it up; the credential is read back from the
// vault at resume time.
func Restore(rec Record, deps Deps) *Task {
	t := newTask(rec.ID, deps)
	t.destination = rec.Destination
	t.delay = time.Duration(template.CoerceDelay(rec.DelaySeconds)) * time.Second
	t.prefix = rec.Prefix
	t.suffix = rec.Suffix
	t.queue = append([]string(nil), rec.Messages...)
	if !rec.CreatedAt.IsZero() {
		t.createdAt = rec.CreatedAt
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = rec.CurrentIndex
	if t.cursor < 0 || t.cursor >= len(t.queue) {
		t.cursor = 0
	}
	t.loopCount = rec.LoopCount
	t.restartCount = rec.RestartCount
	t.stats = rec.Stats
	t.stats.ActiveSession = false
	t.logs.load(rec.Logs)
	t.running = true
	t.logLocked(SeverityInfo, "Reloaded persisted task")
	return t
}

// logLocked appends to the log ring, refreshes lastActivity and publishes a
// log event. The caller holds t.mu.
func (t *Task) logLocked(sev Severity, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	now := t.clock.Now()
	t.logs.push(LogEntry{Time: now, Message: msg, Severity: sev})
	t.lastActivity = now

	switch sev {
	case SeverityError:
		t.log.Warn().Str("state", string(t.state)).Msg(msg)
	default:
		t.log.Debug().Str("state", string(t.state)).Msg(msg)
	}

	if t.sink != nil {
		t.sink.Publish(events.Event{
			Type:      events.TypeLog,
			TaskID:    t.id,
			Message:   msg,
			Severity:  string(sev),
			Running:   t.running,
			Timestamp: now,
		})
	}
}

// setStateLocked records a transition and publishes a status event.
func (t *Task) setStateLocked(s State) {
	if t.state == s {
		return
	}
	t.log.Debug().Str("from", string(t.state)).Str("to", string(s)).Msg("State transition")
	t.state = s
	if t.sink != nil {
		t.sink.Publish(events.Event{
			Type:      events.TypeStatus,
			TaskID:    t.id,
			State:     string(s),
			Running:   t.running,
			Timestamp: t.clock.Now(),
		})
	}
}
