package turn

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/timerset"
)

// SyncStatus is the watchdog's view of how trustworthy local state is.
type SyncStatus string

const (
	SyncOK     SyncStatus = "ok"
	SyncStale  SyncStatus = "stale"
	SyncFailed SyncStatus = "failed"
)

const timerWatchdogTick = "turn.watchdog_tick"

// maxSilentResyncs is how many consecutive resync requests may go
// unanswered before status degrades to failed.
const maxSilentResyncs = 2

// WatchdogConfig holds the staleness and cooldown tuning.
type WatchdogConfig struct {
	Interval time.Duration `yaml:"interval"`
	// StaleThreshold applies when nothing urgent is outstanding.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
	// UrgentThreshold applies when a deadline has visibly elapsed or a
	// local action is awaiting confirmation.
	UrgentThreshold time.Duration `yaml:"urgent_threshold"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

// DefaultWatchdogConfig returns the default watchdog tuning.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Interval:        2500 * time.Millisecond,
		StaleThreshold:  12 * time.Second,
		UrgentThreshold: 4500 * time.Millisecond,
		Cooldown:        7 * time.Second,
	}
}

// Watchdog detects silent staleness: no turn-relevant server activity for
// too long, or a deadline that expired with no event. It proactively
// requests a resync, bounded by a cooldown.
type Watchdog struct {
	cfg     WatchdogConfig
	clock   clockwork.Clock
	timers  *timerset.Set
	machine *Machine

	connOpen func() bool
	// sendResync puts a resync request on the wire; reports success.
	sendResync func(reason string) bool
	onStatus   func(SyncStatus)

	lastActivity time.Time
	lastResyncAt time.Time
	inFlight     bool
	silentMisses int
	status       SyncStatus
	running      bool
}

// NewWatchdog builds a watchdog bound to the machine it guards.
func NewWatchdog(cfg WatchdogConfig, clock clockwork.Clock, timers *timerset.Set,
	machine *Machine, connOpen func() bool, sendResync func(reason string) bool,
	onStatus func(SyncStatus)) *Watchdog {
	return &Watchdog{
		cfg:          cfg,
		clock:        clock,
		timers:       timers,
		machine:      machine,
		connOpen:     connOpen,
		sendResync:   sendResync,
		onStatus:     onStatus,
		lastActivity: clock.Now(),
		status:       SyncOK,
	}
}

// Start begins periodic ticking.
func (w *Watchdog) Start() {
	w.running = true
	w.scheduleTick()
}

// Stop halts ticking. Pending resync state is kept.
func (w *Watchdog) Stop() {
	w.running = false
	w.timers.Cancel(timerWatchdogTick)
}

func (w *Watchdog) scheduleTick() {
	w.timers.Schedule(timerWatchdogTick, w.cfg.Interval, func() {
		w.Tick()
		if w.running {
			w.scheduleTick()
		}
	})
}

// Touch records trusted server activity.
func (w *Watchdog) Touch() {
	w.lastActivity = w.clock.Now()
}

// Status returns the current sync status.
func (w *Watchdog) Status() SyncStatus { return w.status }

// Tick evaluates staleness once. Exported so tests and the session loop can
// drive it directly.
func (w *Watchdog) Tick() {
	if !w.machine.TurnsEnforced() || !w.connOpen() {
		return
	}

	stale := w.clock.Now().Sub(w.lastActivity)
	threshold := w.cfg.StaleThreshold
	if w.machine.DeadlineElapsed() || w.machine.Pending() != nil {
		threshold = w.cfg.UrgentThreshold
	}
	if stale <= threshold {
		return
	}

	w.setStatus(SyncStale)
	log.Warn().
		Dur("stale", stale).
		Dur("threshold", threshold).
		Msg("no turn activity observed, requesting resync")
	w.RequestResync("stale")
}

// RequestResync issues one resync request, idempotently: a request already
// in flight or inside the cooldown window makes this a no-op. A request
// still unanswered after a full cooldown is treated as lost so the watchdog
// can keep asking; repeated silent losses degrade status to failed.
func (w *Watchdog) RequestResync(reason string) {
	now := w.clock.Now()
	if !w.lastResyncAt.IsZero() && now.Sub(w.lastResyncAt) < w.cfg.Cooldown {
		return
	}
	if w.inFlight {
		w.inFlight = false
		w.silentMisses++
		log.Warn().Int("silent_misses", w.silentMisses).Msg("resync request got no reply")
		if w.silentMisses >= maxSilentResyncs {
			w.setStatus(SyncFailed)
		}
	}

	w.lastResyncAt = now
	if !w.sendResync(reason) {
		w.setStatus(SyncFailed)
		return
	}
	w.inFlight = true
}

// ResyncSucceeded is called when an authoritative snapshot lands. Status
// heals, activity is touched, and a deferred end-turn is flushed.
func (w *Watchdog) ResyncSucceeded() {
	w.inFlight = false
	w.silentMisses = 0
	w.setStatus(SyncOK)
	w.Touch()
	w.machine.FlushPendingEndTurn()
}

// ResyncFailed is called when a resync request errored out server-side.
func (w *Watchdog) ResyncFailed() {
	w.inFlight = false
	w.setStatus(SyncFailed)
}

// Reset clears resync bookkeeping and staleness for a fresh binding so a
// request left in flight by a dying binding cannot gag the next one.
func (w *Watchdog) Reset() {
	w.inFlight = false
	w.silentMisses = 0
	w.lastResyncAt = time.Time{}
	w.lastActivity = w.clock.Now()
	w.setStatus(SyncOK)
}

func (w *Watchdog) setStatus(s SyncStatus) {
	if w.status == s {
		return
	}
	w.status = s
	if w.onStatus != nil {
		w.onStatus(s)
	}
}
