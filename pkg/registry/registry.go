// Package registry owns the set of live tasks. It dispatches control
// commands, persists the running set, rehydrates it at boot and runs the
// periodic autosave and watchdog sweeps.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/guido-cesarano/looprelay/pkg/clock"
	"github.com/guido-cesarano/looprelay/pkg/gateway"
	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/guido-cesarano/looprelay/pkg/metrics"
	"github.com/guido-cesarano/looprelay/pkg/store"
	"github.com/guido-cesarano/looprelay/pkg/tasks"
	"github.com/guido-cesarano/looprelay/pkg/template"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned for unknown task ids.
	ErrNotFound = errors.New("registry: task not found")
	// ErrUnknownCommand is returned by Dispatch for unsupported command types.
	ErrUnknownCommand = errors.New("registry: unknown command")
)

// Defaults for Options fields left zero.
const (
	DefaultAutosaveSpec = "@every 30s"
	DefaultWatchdogSpec = "@every 1m"
	DefaultResumeDelay  = 5 * time.Second
	DefaultSavedLogs    = 50
	// DefaultDelaySeconds applies when a start command omits the delay.
	DefaultDelaySeconds = 5
)

// Options configure a Registry.
type Options struct {
	Gateway gateway.Gateway
	Vault   tasks.Vault
	Store   store.Store
	Sink    tasks.Sink
	Clock   clock.Clock
	Limits  tasks.Limits

	AutosaveSpec string
	WatchdogSpec string
	// ResumeDelay separates rehydration from the first login of restored
	// tasks.
	ResumeDelay time.Duration
	// SavedLogs caps the log lines persisted per task.
	SavedLogs int
	// NewID generates task ids. Defaults to random UUIDs.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.AutosaveSpec == "" {
		o.AutosaveSpec = DefaultAutosaveSpec
	}
	if o.WatchdogSpec == "" {
		o.WatchdogSpec = DefaultWatchdogSpec
	}
	if o.ResumeDelay <= 0 {
		o.ResumeDelay = DefaultResumeDelay
	}
	if o.SavedLogs <= 0 {
		o.SavedLogs = DefaultSavedLogs
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// Registry maps task ids to tasks.
type Registry struct {
	opts     Options
	log      zerolog.Logger
	validate *validator.Validate
	cron     *cron.Cron

	mu      sync.RWMutex
	tasks   map[string]*tasks.Task
	resumes []clock.Timer

	saveMu sync.Mutex
}

// New creates an empty registry. Sweeps are not scheduled until
// StartSweeps is called.
func New(opts Options) *Registry {
	return &Registry{
		opts:     opts.withDefaults(),
		log:      logger.With("registry"),
		validate: validator.New(),
		cron:     cron.New(cron.WithSeconds()),
		tasks:    make(map[string]*tasks.Task),
	}
}

func (r *Registry) deps() tasks.Deps {
	return tasks.Deps{
		Gateway: r.opts.Gateway,
		Vault:   r.opts.Vault,
		Sink:    r.opts.Sink,
		Clock:   r.opts.Clock,
		Limits:  r.opts.Limits,
		OnStop: func(string) {
			_ = r.Save(context.Background())
		},
	}
}

// Dispatch executes a command and builds its reply. It never panics on bad
// input; every failure becomes an error reply.
func (r *Registry) Dispatch(ctx context.Context, cmd Command) Reply {
	if err := r.validate.Struct(cmd); err != nil {
		return ErrorReply(cmd.Type, ReasonInvalid, err.Error())
	}

	switch cmd.Type {
	case CommandStart:
		id, err := r.Start(ctx, cmd)
		if err != nil {
			return ErrorReply(CommandStart, startFailureReason(err), err.Error())
		}
		return Reply{Type: ReplyTaskStarted, TaskID: id}

	case CommandStop:
		if err := r.Stop(ctx, cmd.TaskID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrorReply(CommandStop, ReasonNotFound, "Task not found")
			}
			return ErrorReply(CommandStop, ReasonStopFailed, err.Error())
		}
		return Reply{Type: ReplyTaskStopped, TaskID: cmd.TaskID}

	case CommandInspect, CommandViewDetails:
		snap, err := r.Inspect(cmd.TaskID)
		if err != nil {
			return ErrorReply(CommandInspect, ReasonNotFound, "Task not found or no longer active")
		}
		return Reply{Type: ReplyTaskDetails, TaskID: cmd.TaskID, Details: &snap}

	default:
		r.log.Warn().Str("type", cmd.Type).Msg("Unknown command")
		return ErrorReply(cmd.Type, ReasonUnknownCommand, ErrUnknownCommand.Error())
	}
}

func startFailureReason(err error) string {
	switch {
	case errors.Is(err, tasks.ErrEmptyQueue):
		return ReasonEmptyQueue
	case errors.Is(err, tasks.ErrMissingCredential):
		return ReasonNoCredential
	default:
		return ReasonStartFailed
	}
}

// Start builds and starts a task from a start command. The task is
// registered and persisted only when Start succeeds. The destination is
// passed through untouched; a bad one shows up as send failures.
func (r *Registry) Start(ctx context.Context, cmd Command) (string, error) {
	delay := DefaultDelaySeconds
	if cmd.DelaySeconds != nil {
		delay = template.CoerceDelay(cmd.DelaySeconds)
	}

	id := r.opts.NewID()
	task := tasks.New(id, tasks.Spec{
		Credential:   cmd.Credential,
		Destination:  cmd.Destination,
		Body:         cmd.MessageBody,
		Prefix:       cmd.Prefix,
		Suffix:       cmd.Suffix,
		DelaySeconds: delay,
	}, r.deps())

	if err := task.Start(ctx); err != nil {
		r.log.Warn().Err(err).Str("task_id", id).Msg("Task failed to start")
		return "", err
	}

	r.mu.Lock()
	r.tasks[id] = task
	r.mu.Unlock()

	r.log.Info().Str("task_id", id).Str("destination", cmd.Destination).
		Int("messages", len(task.Messages())).Msg("New task started")
	_ = r.Save(ctx)
	r.refreshGauge()
	return id, nil
}

// Stop stops a task and removes it from the registry. The remote session
// stays valid.
func (r *Registry) Stop(ctx context.Context, id string) error {
	task, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !task.Stop(ctx) {
		return fmt.Errorf("registry: failed to stop %s", id)
	}

	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()

	r.log.Info().Str("task_id", id).Msg("Task stopped, session left logged in")
	r.refreshGauge()
	return nil
}

// Inspect returns the details of a task.
func (r *Registry) Inspect(id string) (tasks.Snapshot, error) {
	task, ok := r.Get(id)
	if !ok {
		return tasks.Snapshot{}, ErrNotFound
	}
	return task.Snapshot(), nil
}

// Get returns the task registered under id.
func (r *Registry) Get(id string) (*tasks.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns a sorted snapshot of the registered ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Save persists every running task. The running set is read and written
// under one lock so a snapshot never overwrites a newer one. Errors are
// logged and returned; callers on the command path ignore them.
func (r *Registry) Save(ctx context.Context) error {
	if r.opts.Store == nil {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	var records []tasks.Record
	for _, id := range r.List() {
		task, ok := r.Get(id)
		if !ok || !task.Running() {
			continue
		}
		records = append(records, task.Record(r.opts.SavedLogs))
	}

	if err := r.opts.Store.Save(ctx, records); err != nil {
		metrics.Snapshots.WithLabelValues("error").Inc()
		r.log.Error().Err(err).Msg("Failed to save tasks")
		return err
	}
	metrics.Snapshots.WithLabelValues("success").Inc()
	r.log.Debug().Int("tasks", len(records)).Msg("Saved tasks")
	return nil
}

// Rehydrate restores every persisted task, registers it as running and
// schedules its resume after ResumeDelay. It returns the number of tasks
// restored. Records already registered are skipped.
func (r *Registry) Rehydrate(ctx context.Context) (int, error) {
	if r.opts.Store == nil {
		return 0, nil
	}
	records, err := r.opts.Store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: rehydrate: %w", err)
	}

	restored := 0
	r.mu.Lock()
	for id, rec := range records {
		if _, exists := r.tasks[id]; exists {
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
		task := tasks.Restore(rec, r.deps())
		r.tasks[id] = task
		r.resumes = append(r.resumes, r.opts.Clock.AfterFunc(r.opts.ResumeDelay, func() {
			if !task.Resume(context.Background()) && !task.Running() {
				r.log.Warn().Str("task_id", task.ID()).Msg("Restored task could not resume")
			}
		}))
		restored++
	}
	r.mu.Unlock()

	r.log.Info().Int("tasks", restored).Msg("Loaded saved tasks")
	r.refreshGauge()
	return restored, nil
}

// StartSweeps schedules the autosave and watchdog sweeps and starts the
// scheduler.
func (r *Registry) StartSweeps() error {
	if _, err := r.cron.AddFunc(r.opts.AutosaveSpec, func() {
		_ = r.Save(context.Background())
		r.refreshGauge()
	}); err != nil {
		return fmt.Errorf("registry: autosave schedule %q: %w", r.opts.AutosaveSpec, err)
	}
	if _, err := r.cron.AddFunc(r.opts.WatchdogSpec, func() {
		r.Watchdog()
	}); err != nil {
		return fmt.Errorf("registry: watchdog schedule %q: %w", r.opts.WatchdogSpec, err)
	}
	r.cron.Start()
	return nil
}

// Watchdog restarts every running task whose last activity is older than
// the stale threshold. Each unhealthy task is restarted at most once per
// call. It returns the number of restarts.
func (r *Registry) Watchdog() int {
	now := r.opts.Clock.Now()
	restarted := 0
	for _, id := range r.List() {
		task, ok := r.Get(id)
		if !ok || !task.Running() || task.Healthy(now) {
			continue
		}
		r.log.Warn().Str("task_id", id).Msg("Task is stale, restarting")
		if task.Restart() {
			restarted++
		}
	}
	r.refreshGauge()
	return restarted
}

// Shutdown stops the sweeps, cancels pending resumes and writes a final
// snapshot. Tasks keep their running flag so they resume on the next boot.
func (r *Registry) Shutdown(ctx context.Context) error {
	cronCtx := r.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}

	r.mu.Lock()
	for _, t := range r.resumes {
		t.Stop()
	}
	r.resumes = nil
	r.mu.Unlock()

	r.log.Info().Int("tasks", r.Len()).Msg("Saving all tasks before shutdown")
	return r.Save(ctx)
}

func (r *Registry) refreshGauge() {
	running := 0
	for _, id := range r.List() {
		if task, ok := r.Get(id); ok && task.Running() {
			running++
		}
	}
	metrics.RunningTasks.Set(float64(running))
}
