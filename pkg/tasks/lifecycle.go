package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guido-cesarano/looprelay/pkg/gateway"
	"github.com/guido-cesarano/looprelay/pkg/logger"
	"github.com/guido-cesarano/looprelay/pkg/metrics"
)

// Start begins the task. It is idempotent: a running task returns nil
// without touching the vault or the gateway. Configuration errors (empty
// queue, missing credential, vault failure) leave the task stopped and are
// returned once; login failures are handled asynchronously by the retry loop.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.logLocked(SeverityInfo, "Task is already running")
		t.mu.Unlock()
		return nil
	}
	if len(t.queue) == 0 {
		t.logLocked(SeverityError, "No messages found in the message body")
		t.setStateLocked(StateStopped)
		t.mu.Unlock()
		return ErrEmptyQueue
	}
	if strings.TrimSpace(t.credential) == "" {
		t.logLocked(SeverityError, "No credential supplied")
		t.setStateLocked(StateStopped)
		t.mu.Unlock()
		return ErrMissingCredential
	}
	t.running = true
	t.retryCount = 0
	t.setStateLocked(StateStarting)
	cred := t.credential
	t.mu.Unlock()

	var err error
	if t.vault != nil {
		err = t.vault.Put(ctx, t.id, cred)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.running = false
		t.logLocked(SeverityError, "Failed to save credential: %v", err)
		t.setStateLocked(StateStopped)
		return fmt.Errorf("tasks: persist credential: %w", err)
	}
	t.logLocked(SeveritySuccess, "Credential %s saved", logger.Mask(cred))
	t.beginLocked("Starting task with %d messages")
	return nil
}

// Resume restarts a task restored from a snapshot. It reports whether a
// login was scheduled. A task that is not running, already holds a session
// or already has work scheduled is left alone.
func (t *Task) Resume(ctx context.Context) bool {
	t.mu.Lock()
	if !t.running || t.session != nil || t.next != nil || t.state != StateCreated {
		t.mu.Unlock()
		return false
	}
	needCred := strings.TrimSpace(t.credential) == ""
	t.mu.Unlock()

	var cred string
	var err error
	if needCred {
		cred, err = t.fetchCredential(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.next != nil || t.state != StateCreated {
		return false
	}
	if err != nil {
		t.running = false
		t.logLocked(SeverityError, "Cannot resume, credential unavailable: %v", err)
		t.setStateLocked(StateStopped)
		return false
	}
	if needCred {
		t.credential = cred
	}
	t.retryCount = 0
	t.beginLocked("Resuming task with %d messages")
	return true
}

// fetchCredential reads the credential back from the vault.
func (t *Task) fetchCredential(ctx context.Context) (string, error) {
	if t.vault == nil {
		return "", ErrMissingCredential
	}
	cred, err := t.vault.Get(ctx, t.id)
	if err == nil && strings.TrimSpace(cred) == "" {
		err = ErrMissingCredential
	}
	return cred, err
}

// beginLocked opens a new epoch and schedules the first login.
func (t *Task) beginLocked(msg string) {
	t.epoch++
	t.startedAt = t.clock.Now()
	t.logLocked(SeverityInfo, msg, len(t.queue))
	t.scheduleLocked(0, t.login)
}

// liveLocked reports whether work scheduled in epoch may still act.
func (t *Task) liveLocked(epoch uint64) bool {
	return t.running && epoch == t.epoch
}

// scheduleLocked replaces the pending action with fn after d.
func (t *Task) scheduleLocked(d time.Duration, fn func(epoch uint64)) {
	if t.next != nil {
		t.next.Stop()
	}
	epoch := t.epoch
	t.next = t.clock.AfterFunc(d, func() { t.fire(epoch, fn) })
}

// fire runs a scheduled action if its epoch is still current. A panic inside
// the action is treated as a session fault.
func (t *Task) fire(epoch uint64, fn func(uint64)) {
	t.mu.Lock()
	if !t.liveLocked(epoch) {
		t.mu.Unlock()
		return
	}
	t.next = nil
	t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			t.mu.Lock()
			defer t.mu.Unlock()
			if !t.liveLocked(epoch) {
				return
			}
			t.logLocked(SeverityError, "Error in scheduler: %v", r)
			t.restartLocked("panic")
		}
	}()
	fn(epoch)
}

func (t *Task) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), t.limits.CallTimeout)
}

// login acquires a session. Failures back off by LoginRetryDelay up to
// MaxLoginRetries, after which the task stops itself.
func (t *Task) login(epoch uint64) {
	t.mu.Lock()
	if !t.liveLocked(epoch) {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(StateLoggingIn)
	cred := t.credential
	t.mu.Unlock()

	// Restored tasks can reach login through a restart before Resume ran.
	if strings.TrimSpace(cred) == "" {
		ctx, cancel := t.callContext()
		stored, err := t.fetchCredential(ctx)
		cancel()

		t.mu.Lock()
		if !t.liveLocked(epoch) {
			t.mu.Unlock()
			return
		}
		if err != nil {
			t.running = false
			t.logLocked(SeverityError, "Cannot log in, credential unavailable: %v", err)
			t.setStateLocked(StateStopped)
			t.mu.Unlock()
			return
		}
		t.credential = stored
		t.mu.Unlock()
		cred = stored
	}

	sess, err := t.authenticate(cred)

	t.mu.Lock()
	if !t.liveLocked(epoch) {
		t.mu.Unlock()
		return
	}
	if err == nil && sess == nil {
		err = gateway.ErrAuthFailed
	}
	if err != nil {
		t.logLocked(SeverityError, "Login failed: %v", err)
		t.retryCount++
		if t.retryCount <= t.limits.MaxLoginRetries {
			metrics.Logins.WithLabelValues("retry").Inc()
			t.logLocked(SeverityInfo, "Auto-retry login attempt %d/%d in %s",
				t.retryCount, t.limits.MaxLoginRetries, t.limits.LoginRetryDelay)
			t.setStateLocked(StateRetryingLogin)
			t.scheduleLocked(t.limits.LoginRetryDelay, t.login)
		} else {
			metrics.Logins.WithLabelValues("exhausted").Inc()
			t.running = false
			t.logLocked(SeverityError, "Max login retries reached, task stopped")
			t.setStateLocked(StateStopped)
		}
		t.mu.Unlock()
		return
	}

	metrics.Logins.WithLabelValues("success").Inc()
	t.session = sess
	t.describeDue = true
	t.stats.ActiveSession = true
	t.retryCount = 0
	t.logLocked(SeveritySuccess, "Logged in successfully")
	t.setStateLocked(StateSending)
	t.mu.Unlock()

	t.sendNext(epoch)
}

func (t *Task) authenticate(cred string) (sess gateway.Session, err error) {
	if t.gw == nil {
		return nil, gateway.ErrAuthFailed
	}
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, &gateway.PanicError{Value: r}
		}
	}()
	ctx, cancel := t.callContext()
	defer cancel()
	return t.gw.Authenticate(ctx, cred)
}

// describe performs the best-effort destination lookup. It runs once per
// session, right after the first send returns, so a task never has two
// gateway calls in flight. Its outcome never affects the task state.
func (t *Task) describe(epoch uint64, sess gateway.Session) {
	d, ok := sess.(gateway.Describer)
	if !ok {
		return
	}
	defer func() { _ = recover() }()

	ctx, cancel := t.callContext()
	defer cancel()
	md, err := d.Describe(ctx, t.destination)
	if err != nil || md.Name == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.liveLocked(epoch) {
		t.logLocked(SeverityInfo, "Target: %s (ID: %s)", md.Name, t.destination)
	}
}

// sendNext sends the message at the cursor.
func (t *Task) sendNext(epoch uint64) {
	t.mu.Lock()
	if !t.liveLocked(epoch) || t.session == nil || len(t.queue) == 0 {
		t.mu.Unlock()
		return
	}
	if t.cursor >= len(t.queue) || t.cursor < 0 {
		t.wrapLocked()
	}
	idx := t.cursor
	msg := t.queue[idx]
	t.mu.Unlock()

	t.sendWithRetry(epoch, idx, msg, 0)
}

// sendWithRetry delivers msg. Delivery failures retry the same message up to
// MaxSendRetries and then abandon it; session faults restart the task.
func (t *Task) sendWithRetry(epoch uint64, idx int, msg string, attempt int) {
	t.mu.Lock()
	if !t.liveLocked(epoch) || t.session == nil {
		t.mu.Unlock()
		return
	}
	sess := t.session
	describe := t.describeDue
	t.describeDue = false
	t.mu.Unlock()

	start := time.Now()
	err := t.send(sess, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	if describe && !gateway.IsSessionFault(err) {
		t.describe(epoch, sess)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.liveLocked(epoch) {
		return
	}
	total := len(t.queue)

	switch {
	case err == nil:
		metrics.Sends.WithLabelValues("success").Inc()
		t.stats.Sent++
		t.stats.LastSuccess = t.clock.Now()
		t.retryCount = 0
		t.logLocked(SeveritySuccess, "Sent message %d/%d, loop %d", idx+1, total, t.loopCount+1)
		t.advanceLocked()
		t.scheduleNextLocked()

	case gateway.IsSessionFault(err):
		metrics.Sends.WithLabelValues("fault").Inc()
		t.logLocked(SeverityError, "Send error, restarting: %v", err)
		t.restartLocked("fault")

	default:
		t.stats.Failed++
		if attempt < t.limits.MaxSendRetries {
			metrics.Sends.WithLabelValues("retry").Inc()
			t.logLocked(SeverityWarn, "Retry %d/%d for message %d/%d: %v",
				attempt+1, t.limits.MaxSendRetries, idx+1, total, err)
			t.scheduleLocked(t.limits.SendRetryDelay, func(e uint64) {
				t.sendWithRetry(e, idx, msg, attempt+1)
			})
			return
		}
		metrics.Sends.WithLabelValues("abandoned").Inc()
		t.logLocked(SeverityError, "Failed after %d retries, skipping message %d/%d",
			t.limits.MaxSendRetries, idx+1, total)
		t.advanceLocked()
		t.scheduleNextLocked()
	}
}

func (t *Task) send(sess gateway.Session, msg string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &gateway.PanicError{Value: r}
		}
	}()
	ctx, cancel := t.callContext()
	defer cancel()
	return sess.Send(ctx, msg, t.destination)
}

// advanceLocked moves the cursor past the current message, wrapping into a
// new loop at the end of the queue.
func (t *Task) advanceLocked() {
	t.cursor++
	if t.cursor >= len(t.queue) {
		t.wrapLocked()
	}
}

func (t *Task) wrapLocked() {
	t.cursor = 0
	t.loopCount++
	t.stats.Loops = t.loopCount
	metrics.Loops.Inc()
	t.logLocked(SeverityInfo, "Loop #%d completed, restarting messages", t.loopCount)
}

// scheduleNextLocked paces the next send by the configured delay.
func (t *Task) scheduleNextLocked() {
	if !t.running {
		return
	}
	t.scheduleLocked(t.delay, t.sendNext)
}

// Restart drops the current session without invalidating it and logs in
// again after RestartDelay. It reports false when the task is not running.
func (t *Task) Restart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return false
	}
	t.restartLocked("watchdog")
	return true
}

func (t *Task) restartLocked(trigger string) {
	metrics.Restarts.WithLabelValues(trigger).Inc()
	t.logLocked(SeverityInfo, "Restarting task")

	// The session is only dereferenced; it stays valid on the remote side.
	t.session = nil
	t.stats.ActiveSession = false
	t.restartCount++
	t.stats.Restarts++
	t.epoch++
	t.setStateLocked(StateRestartPending)
	t.scheduleLocked(t.limits.RestartDelay, t.relogin)
}

func (t *Task) relogin(epoch uint64) {
	t.mu.Lock()
	if !t.liveLocked(epoch) {
		t.mu.Unlock()
		return
	}
	if t.restartCount > t.limits.MaxRestarts {
		t.running = false
		t.logLocked(SeverityError, "Max restarts reached, task stopped")
		t.setStateLocked(StateStopped)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.login(epoch)
}

// Stop halts the task. Pending work is cancelled and the local credential
// copy is removed, but the remote session is left valid so the same
// credential can be reused. Stop always succeeds.
func (t *Task) Stop(ctx context.Context) bool {
	t.mu.Lock()
	t.running = false
	t.epoch++
	if t.next != nil {
		t.next.Stop()
		t.next = nil
	}
	t.session = nil
	t.stats.ActiveSession = false
	t.logLocked(SeverityInfo, "Task stopped, remote session left intact")
	t.setStateLocked(StateStopped)
	t.mu.Unlock()

	if t.vault != nil {
		if err := t.vault.Delete(ctx, t.id); err != nil {
			t.log.Warn().Err(err).Msg("Failed to delete stored credential")
		}
	}
	if t.onStop != nil {
		t.onStop(t.id)
	}
	return true
}

// Healthy reports false when a running task has not logged anything for
// longer than StaleAfter.
func (t *Task) Healthy(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return true
	}
	return now.Sub(t.lastActivity) <= t.limits.StaleAfter
}
