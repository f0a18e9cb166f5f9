// Package round detects round boundaries in an ordered event stream and
// aggregates per-round features.
//
// A Tracker is either in COOLDOWN (no round open) or ACTIVE (exactly one
// round open). Explicit debug and status signals open and close rounds
// immediately; trades and side bets open a round by inference once the
// minimum cooldown has passed; an inactivity watchdog closes rounds that
// never receive an end signal. Every finalization goes through a single
// take-and-clear step, so whichever of the watchdog and the event path
// gets there first finalizes the round and the other finds nothing to do.
package round

import (
	"sync"
	"time"

	"github.com/rewired-gh/roundwatch/internal/clock"
	"github.com/rewired-gh/roundwatch/internal/models"
)

// Config holds boundary detection parameters.
type Config struct {
	// MinCooldown is the time since the previous round's end that must be
	// exceeded before activity may open a round by inference.
	MinCooldown time.Duration
	// InactivityTimeout closes an active round that receives no events.
	// Zero disables the watchdog.
	InactivityTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinCooldown:       10 * time.Second,
		InactivityTimeout: 30 * time.Second,
	}
}

// Sink receives finalized rounds. Errors are logged and not retried.
type Sink interface {
	InsertRoundFeature(r *models.RoundFeature) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r *models.RoundFeature) error

func (f SinkFunc) InsertRoundFeature(r *models.RoundFeature) error { return f(r) }

// Logger receives lifecycle and sink diagnostics.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// State is the tracker's boundary state.
type State int

const (
	Cooldown State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "COOLDOWN"
}

// Tracker is the round boundary state machine. Process must be called from
// a single goroutine in arrival order; the watchdog fires on its own.
type Tracker struct {
	mu      sync.Mutex
	emitMu  sync.Mutex
	config  Config
	clock   clock.Clock
	sink    Sink
	log     Logger
	current *accumulator

	lastEnd    time.Time
	hasLastEnd bool

	watchdog   clock.Timer
	generation uint64
}

// New creates a Tracker in COOLDOWN.
func New(sink Sink, config Config, clk clock.Clock, log Logger) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{
		config: config,
		clock:  clk,
		sink:   sink,
		log:    log,
	}
}

// State returns the current boundary state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		return Active
	}
	return Cooldown
}

// LastEnd returns the end time of the most recent round or end signal.
func (t *Tracker) LastEnd() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEnd, t.hasLastEnd
}

// Process applies one event.
func (t *Tracker) Process(ev models.StructuredEvent) {
	t.mu.Lock()
	var done []*models.RoundFeature

	// A gap longer than the inactivity window means the watchdog is due;
	// close at the time it would have fired before looking at ev.
	if t.current != nil && t.config.InactivityTimeout > 0 &&
		ev.Timestamp.Sub(t.current.lastSeen) > t.config.InactivityTimeout {
		done = appendRound(done, t.finishLocked(t.current.lastSeen.Add(t.config.InactivityTimeout), models.EndTimeout))
	}

	switch ev.Kind {
	case models.KindDebugSignal:
		d := ev.AsDebugSignal()
		if d.Active {
			if t.current == nil {
				t.openLocked(ev.Timestamp, models.StartExplicit)
			}
		} else if d.WasActive {
			done = appendRound(done, t.finishLocked(ev.Timestamp, models.EndExplicitDebug))
		}

	case models.KindStatusUpdate:
		if s := ev.AsStatusUpdate(); s.Status != nil && *s.Status == "INACTIVE" {
			done = appendRound(done, t.finishLocked(ev.Timestamp, models.EndExplicitStatus))
		}

	case models.KindTrade, models.KindSideBet:
		if t.current == nil && t.inferenceAllowedLocked(ev.Timestamp) {
			t.openLocked(ev.Timestamp, models.StartInferred)
		}
		if t.current != nil {
			if ev.Kind == models.KindTrade {
				t.current.addTrade(ev)
			} else {
				t.current.addSideBet(ev)
			}
		}
	}

	if t.current != nil {
		if ev.Timestamp.After(t.current.lastSeen) {
			t.current.lastSeen = ev.Timestamp
		}
		t.armLocked()
	}
	t.emitUnlock(done)
}

// ForceEnd finalizes the open round with reason "forced". It is a no-op in
// COOLDOWN.
func (t *Tracker) ForceEnd() {
	t.mu.Lock()
	var done []*models.RoundFeature
	if t.current != nil {
		end := t.clock.Now()
		if end.Before(t.current.lastSeen) {
			end = t.current.lastSeen
		}
		done = appendRound(done, t.finishLocked(end, models.EndForced))
	}
	t.emitUnlock(done)
}

func (t *Tracker) inferenceAllowedLocked(ts time.Time) bool {
	if !t.hasLastEnd {
		return true
	}
	return ts.Sub(t.lastEnd) > t.config.MinCooldown
}

func (t *Tracker) openLocked(start time.Time, reason models.BoundaryReason) {
	var cooldown *float64
	if t.hasLastEnd {
		c := start.Sub(t.lastEnd).Seconds()
		if c < 0 {
			c = 0
		}
		cooldown = &c
	}
	t.current = newAccumulator(start, reason, cooldown)
	if t.log != nil {
		t.log.Info("Round started at %s (%s)", start.Format(time.RFC3339Nano), reason)
	}
}

// finishLocked records end as the last end time and, if a round is open,
// takes it out of the slot and finalizes it. Returns nil when no round was
// open.
func (t *Tracker) finishLocked(end time.Time, reason models.BoundaryReason) *models.RoundFeature {
	acc := t.current
	if acc == nil {
		t.lastEnd, t.hasLastEnd = end, true
		return nil
	}
	t.current = nil
	t.disarmLocked()

	if end.Before(acc.startedAt) {
		end = acc.lastSeen
	}
	t.lastEnd, t.hasLastEnd = end, true

	rec := acc.finalize(end, reason)
	if t.log != nil {
		t.log.Info("Round ended (%s): %.1fs, %d trades, %d side bets", reason, rec.DurationSec, rec.NumTrades, rec.NumSideBets)
	}
	return &rec
}

// armLocked replaces the watchdog. The generation check in onInactive
// discards callbacks from timers that were replaced after they fired.
func (t *Tracker) armLocked() {
	t.disarmLocked()
	if t.config.InactivityTimeout <= 0 {
		return
	}
	gen := t.generation
	t.watchdog = t.clock.AfterFunc(t.config.InactivityTimeout, func() { t.onInactive(gen) })
}

func (t *Tracker) disarmLocked() {
	if t.watchdog != nil {
		t.watchdog.Stop()
		t.watchdog = nil
	}
	t.generation++
}

func (t *Tracker) onInactive(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.current == nil {
		t.mu.Unlock()
		return
	}
	if t.log != nil {
		t.log.Debug("No events for %s, closing round", t.config.InactivityTimeout)
	}
	end := t.current.lastSeen.Add(t.config.InactivityTimeout)
	t.emitUnlock(appendRound(nil, t.finishLocked(end, models.EndTimeout)))
}

// emitUnlock hands finalized rounds to the sink in order. It takes emitMu
// before releasing mu so rounds closed by different paths reach the sink in
// the order they were closed.
func (t *Tracker) emitUnlock(done []*models.RoundFeature) {
	if len(done) == 0 {
		t.mu.Unlock()
		return
	}
	t.emitMu.Lock()
	t.mu.Unlock()
	defer t.emitMu.Unlock()

	for _, rec := range done {
		if t.sink == nil {
			continue
		}
		if err := t.sink.InsertRoundFeature(rec); err != nil && t.log != nil {
			t.log.Debug("Sink rejected round %s: %v", rec.ID, err)
		}
	}
}

func appendRound(done []*models.RoundFeature, rec *models.RoundFeature) []*models.RoundFeature {
	if rec == nil {
		return done
	}
	return append(done, rec)
}
