// Package supervisor implements the per-channel orchestration layer
// (C11): a starting/receiving/stalled/draining/stopped/failed state
// machine, a human-readable health line, and a restart policy bounded
// to N restarts per hour, per spec.md §4.11.
//
// Health classification is grounded on the teacher's
// decoder_health.go (stale-threshold classification against a grace
// period); the bounded-restart backoff is grounded on rotctl.go's
// reconnect() (exponential backoff, capped retry delay), adapted here
// to a restart count bounded per rolling hour rather than unlimited
// retries.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mijahauan/signal-recorder-sub002/internal/metrics"
)

// State is one node of the per-channel capture state machine of
// spec.md §4.11.
type State int

const (
	StateStarting State = iota
	StateReceiving
	StateStalled
	StateDraining
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReceiving:
		return "receiving"
	case StateStalled:
		return "stalled"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HealthColour is the three-band health classification of spec.md
// §4.11: green (healthy), yellow (stale but not yet grace-exceeded),
// red (no samples beyond the grace period).
type HealthColour string

const (
	HealthGreen  HealthColour = "green"
	HealthYellow HealthColour = "yellow"
	HealthRed    HealthColour = "red"
)

// Health is the per-channel health line, exported both as a
// human-readable string (§7) and as Prometheus gauges.
type Health struct {
	Channel        string
	InstanceID     string
	State          State
	Colour         HealthColour
	LastSampleAt   time.Time
	LastArchiveAt  time.Time
	RestartsThisHour int
}

// Line renders the human-readable health line of spec.md §7. The
// instance ID distinguishes log lines from a channel's current process
// incarnation after a supervisor-driven restart, the way the teacher's
// InstanceReporter tags every report with a fresh uuid.New() on restart
// (instance_reporter.go).
func (h Health) Line() string {
	return fmt.Sprintf(
		"%s[%s]: state=%s health=%s last_sample=%s last_archive=%s restarts_this_hour=%d",
		h.Channel, h.InstanceID, h.State, h.Colour,
		formatOrNever(h.LastSampleAt), formatOrNever(h.LastArchiveAt),
		h.RestartsThisHour,
	)
}

func formatOrNever(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

// Task is the unit a Channel supervises: a long-running function that
// blocks until ctx is cancelled or it fails unrecoverably.
type Task func(ctx context.Context) error

// Channel supervises one channel's capture or analytics task: it
// tracks state transitions, classifies health against a grace period,
// and restarts the task on failure, bounded to maxRestartsPerHour.
type Channel struct {
	Name               string
	GracePeriod        time.Duration
	YellowThreshold    time.Duration
	MaxRestartsPerHour int
	InitialRetryDelay  time.Duration
	MaxRetryDelay      time.Duration

	Metrics *metrics.Metrics
	Logger  *log.Logger

	mu            sync.Mutex
	state         State
	instanceID    string
	lastSampleAt  time.Time
	lastArchiveAt time.Time
	restartLog    []time.Time // timestamps of restarts within the trailing hour
}

// NewChannel constructs a Channel supervisor with spec-documented
// defaults: a 10s yellow threshold, a 60s grace period, 5 restarts per
// hour, and rotctl.go's 1s/30s backoff bounds.
func NewChannel(name string, m *metrics.Metrics, logger *log.Logger) *Channel {
	if logger == nil {
		logger = log.New(os.Stderr, "supervisor: ", log.LstdFlags)
	}
	return &Channel{
		Name:               name,
		GracePeriod:        60 * time.Second,
		YellowThreshold:    10 * time.Second,
		MaxRestartsPerHour: 5,
		InitialRetryDelay:  time.Second,
		MaxRetryDelay:      30 * time.Second,
		Metrics:            m,
		Logger:             logger,
		state:              StateStarting,
		instanceID:         uuid.New().String(),
	}
}

// NoteSample records that a sample (or packet) was received, driving
// the starting->receiving and stalled->receiving transitions.
func (c *Channel) NoteSample(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSampleAt = at
	if c.state == StateStarting || c.state == StateStalled {
		c.setStateLocked(StateReceiving)
	}
}

// NoteArchive records that a minute archive was flushed.
func (c *Channel) NoteArchive(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastArchiveAt = at
}

// EvaluateHealth classifies health against now, transitioning
// receiving->stalled when the grace period is exceeded, and returns
// the current Health snapshot. Call this periodically (e.g. every few
// seconds) from a supervisor loop.
func (c *Channel) EvaluateHealth(now time.Time) Health {
	c.mu.Lock()
	defer c.mu.Unlock()

	sinceSample := now.Sub(c.lastSampleAt)

	if c.state == StateReceiving && !c.lastSampleAt.IsZero() && sinceSample > c.GracePeriod {
		c.setStateLocked(StateStalled)
	}

	colour := HealthGreen
	switch {
	case c.lastSampleAt.IsZero():
		colour = HealthYellow
	case sinceSample > c.GracePeriod:
		colour = HealthRed
	case sinceSample > c.YellowThreshold:
		colour = HealthYellow
	}

	h := Health{
		Channel:          c.Name,
		InstanceID:       c.instanceID,
		State:            c.state,
		Colour:           colour,
		LastSampleAt:     c.lastSampleAt,
		LastArchiveAt:    c.lastArchiveAt,
		RestartsThisHour: c.restartsWithinHourLocked(now),
	}

	if c.Metrics != nil {
		c.Metrics.SupervisorState.WithLabelValues(c.Name).Set(float64(h.State))
	}
	return h
}

// setStateLocked transitions state and, if configured, updates the
// Prometheus gauge. Caller must hold c.mu.
func (c *Channel) setStateLocked(s State) {
	c.state = s
	if c.Metrics != nil {
		c.Metrics.SupervisorState.WithLabelValues(c.Name).Set(float64(s))
	}
}

func (c *Channel) restartsWithinHourLocked(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	n := 0
	for _, t := range c.restartLog {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Run drives task under supervision until ctx is cancelled: it starts
// the task, and if the task returns a non-nil error before ctx is
// cancelled, restarts it after an exponential backoff (capped at
// MaxRetryDelay), up to MaxRestartsPerHour restarts within any trailing
// hour. Exceeding the bound moves the channel to StateFailed and
// returns the task's last error. A graceful ctx cancellation drains
// (StateDraining) then stops (StateStopped) and returns nil.
func (c *Channel) Run(ctx context.Context, task Task) error {
	delay := c.InitialRetryDelay

	for {
		err := task(ctx)

		if ctx.Err() != nil {
			c.mu.Lock()
			c.setStateLocked(StateDraining)
			c.setStateLocked(StateStopped)
			c.mu.Unlock()
			return nil
		}

		if err == nil {
			// Task returned cleanly without ctx cancellation: nothing
			// more to supervise.
			c.mu.Lock()
			c.setStateLocked(StateStopped)
			c.mu.Unlock()
			return nil
		}

		now := time.Now()
		c.mu.Lock()
		if c.restartsWithinHourLocked(now) >= c.MaxRestartsPerHour {
			c.setStateLocked(StateFailed)
			c.mu.Unlock()
			return fmt.Errorf("supervisor: channel %s exceeded %d restarts/hour: %w", c.Name, c.MaxRestartsPerHour, err)
		}
		c.restartLog = append(c.restartLog, now)
		c.instanceID = uuid.New().String()
		c.setStateLocked(StateStarting)
		c.mu.Unlock()

		if c.Metrics != nil {
			c.Metrics.RestartsTotal.WithLabelValues(c.Name).Inc()
		}
		c.Logger.Printf("channel %s: task failed, restarting in %v: %v", c.Name, delay, err)

		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.setStateLocked(StateDraining)
			c.setStateLocked(StateStopped)
			c.mu.Unlock()
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.MaxRetryDelay {
			delay = c.MaxRetryDelay
		}
	}
}
