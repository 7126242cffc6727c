// Package session binds the engine to one server session at a time and owns
// the cooperative event loop every component runs on. Disposing a binding
// leaves no timer or socket able to mutate state for a superseded session.
package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/clocksync"
	"github.com/dicehall/dicehall/go/internal/conn"
	"github.com/dicehall/dicehall/go/internal/emitter"
	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/spectate"
	"github.com/dicehall/dicehall/go/internal/timerset"
	"github.com/dicehall/dicehall/go/internal/turn"
	"github.com/dicehall/dicehall/go/internal/wire"
)

const (
	timerRecoveryRetry = "session.recovery_retry"

	// recoveryRetryDelay spaces the second rejoin attempt.
	defaultRecoveryRetryDelay = 1500 * time.Millisecond
)

// Presenter is the full surface the engine needs from the rendering
// collaborator: local turn presentation, spectator previews, and status.
type Presenter interface {
	turn.Presenter
	spectate.Presenter
	// SyncStatusChanged reports watchdog status transitions.
	SyncStatusChanged(status turn.SyncStatus)
	// ConnectionChanged reports transport state transitions.
	ConnectionChanged(state conn.State)
}

// Hooks are the injected collaborators owned by excluded layers.
type Hooks struct {
	Presenter Presenter
	// Score computes points for a selection (game-rules collaborator).
	Score func(dieIDs []string) int
	// FetchURL returns a credential-bearing connection URL for a session.
	// Consulted on bind and again whenever credentials expire.
	FetchURL func(ctx context.Context, sessionID string) (string, error)
	// SessionLost asks the user to choose between returning to the lobby
	// and continuing locally, after bounded recovery has failed.
	SessionLost func(toLobby func(), continueSolo func())
	// LeftSession is informed when the binder tears down for the lobby.
	LeftSession func()
}

// Config aggregates the tunables of one binding.
type Config struct {
	Conn               conn.Config         `yaml:"conn"`
	Watchdog           turn.WatchdogConfig `yaml:"watchdog"`
	Spectate           spectate.Config     `yaml:"spectate"`
	RecoveryRetryDelay time.Duration       `yaml:"recovery_retry_delay"`
}

// DefaultConfig returns the default binding configuration.
func DefaultConfig() Config {
	return Config{
		Conn:               conn.DefaultConfig(),
		Watchdog:           turn.DefaultWatchdogConfig(),
		Spectate:           spectate.DefaultConfig(),
		RecoveryRetryDelay: defaultRecoveryRetryDelay,
	}
}

// Binder owns the live session binding. All mutation happens on its loop.
type Binder struct {
	cfg     Config
	hooks   Hooks
	localID string
	dice    models.DiceTable
	clock   clockwork.Clock
	dial    conn.DialFunc

	loop chan func()

	// State below is touched only from the loop.
	sessionID string
	sess      *models.Session
	link      *conn.Manager
	clocks    *clocksync.Synchronizer
	timers    *timerset.Set
	machine   *turn.Machine
	watchdog  *turn.Watchdog
	emit      *emitter.Emitter
	replay    *spectate.Engine

	ctx        context.Context
	bindCancel context.CancelFunc

	recovering       bool
	recoveryAttempts int
	solo             bool
}

// NewBinder creates an unbound binder for the local participant.
func NewBinder(cfg Config, localID string, dice models.DiceTable,
	clock clockwork.Clock, dial conn.DialFunc, hooks Hooks) *Binder {
	b := &Binder{
		cfg:     cfg,
		hooks:   hooks,
		localID: localID,
		dice:    dice,
		clock:   clock,
		dial:    dial,
		loop:    make(chan func(), 256),
	}
	b.clocks = clocksync.New(clock)
	b.timers = timerset.New(clock, b.post)
	b.buildComponents()
	return b
}

// buildComponents wires the per-binding component graph. The components
// live for the binder's lifetime; Bind resets their state instead of
// rebuilding them.
func (b *Binder) buildComponents() {
	b.machine = turn.NewMachine(b.localID, b.dice, b.clocks, b.clock, b.timers,
		b.hooks.Presenter, b.sendEndTurn, b.requestResync)
	b.watchdog = turn.NewWatchdog(b.cfg.Watchdog, b.clock, b.timers, b.machine,
		b.connOpen, b.sendResync, func(status turn.SyncStatus) {
			if status == turn.SyncFailed {
				b.hooks.Presenter.Notify(models.Notice{
					Kind: models.NoticeResyncFailed,
					Text: "could not refresh session state",
				})
			}
			b.hooks.Presenter.SyncStatusChanged(status)
		})
	b.replay = spectate.New(b.cfg.Spectate, b.clock, b.timers, b.hooks.Presenter,
		b.localID,
		func() bool { return b.sess != nil && b.sess.FastDemo },
		func(playerID string) bool {
			if b.sess == nil {
				return false
			}
			p := b.sess.Participant(playerID)
			return p != nil && p.Bot
		})
	b.emit = emitter.New(emitter.Deps{
		LocalID: b.localID,
		Machine: b.machine,
		Dice:    b.dice,
		Clock:   b.clock,
		Timers:  b.timers,
		Session: func() *models.Session { return b.sess },
		Send:    b.sendFrame,
		Score:   b.hooks.Score,
		Notify:  b.hooks.Presenter.Notify,
	})
}

// Run processes the event loop until ctx is done. Handlers run to
// completion in arrival order; there is no parallel execution.
func (b *Binder) Run(ctx context.Context) {
	b.ctx = ctx
	log.Info().Str("player_id", b.localID).Msg("session loop started")
	for {
		select {
		case <-ctx.Done():
			b.dispose()
			log.Info().Msg("session loop stopped")
			return
		case fn := <-b.loop:
			fn()
		}
	}
}

// post serializes fn onto the loop. Everything the engine does — inbound
// frames, timer fires, UI intents — funnels through here.
func (b *Binder) post(fn func()) {
	select {
	case b.loop <- fn:
	default:
		log.Warn().Msg("session loop full, dropping work")
	}
}

// Bind points the binder at a session, disposing any previous binding.
func (b *Binder) Bind(sessionID string) {
	b.post(func() { b.bind(sessionID) })
}

func (b *Binder) bind(sessionID string) {
	b.disposeBinding()

	bindCtx, cancel := context.WithCancel(b.ctx)
	b.bindCancel = cancel
	b.sessionID = sessionID
	b.sess = nil
	b.solo = false
	b.recovering = false
	b.recoveryAttempts = 0

	url, err := b.hooks.FetchURL(bindCtx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("session url fetch failed")
		b.hooks.Presenter.Notify(models.Notice{Kind: models.NoticeOffline, Text: "could not reach session"})
		return
	}

	b.link = conn.NewManager(b.cfg.Conn, url, b.clock, b.dial, conn.Callbacks{
		OnFrame: func(frame []byte) { b.post(func() { b.handleFrame(frame) }) },
		OnOpen:  func() { b.post(b.handleOpen) },
		OnDown: func(err error) {
			b.post(func() { b.hooks.Presenter.ConnectionChanged(conn.StateDisconnected) })
		},
		RefreshURL: func(ctx context.Context) (string, error) {
			return b.hooks.FetchURL(ctx, sessionID)
		},
	})

	b.watchdog.Reset()
	b.watchdog.Start()
	if err := b.link.Connect(bindCtx); err != nil {
		// The manager's backoff schedule owns retries from here.
		log.Warn().Err(err).Msg("initial connect failed, backoff engaged")
	}
	log.Info().Str("session_id", sessionID).Msg("session bound")
}

// handleOpen runs on every successful open, including reconnects.
func (b *Binder) handleOpen() {
	b.watchdog.Touch()
	b.hooks.Presenter.ConnectionChanged(conn.StateOpen)

	frame, err := wire.Marshal(wire.TypeJoinSession, b.sessionID, wire.JoinSessionPayload{
		SessionID: b.sessionID,
		PlayerID:  b.localID,
		Rejoin:    b.sess != nil,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal join")
		return
	}
	if err := b.link.Send(frame); err != nil {
		log.Warn().Err(err).Msg("join send failed")
	}
}

// Session returns the currently bound session snapshot.
func (b *Binder) Session() *models.Session { return b.sess }

// Machine exposes the turn machine for read-side queries.
func (b *Binder) Machine() *turn.Machine { return b.machine }

// Roll posts the local roll intent onto the loop.
func (b *Binder) Roll() { b.post(func() { b.emit.Roll() }) }

// Select posts a local selection change onto the loop.
func (b *Binder) Select(dieIDs []string) { b.post(func() { b.emit.Select(dieIDs) }) }

// Score posts the local score intent onto the loop.
func (b *Binder) Score(dieIDs []string) { b.post(func() { b.emit.Score(dieIDs) }) }

// EndTurn posts the local end-turn intent onto the loop.
func (b *Binder) EndTurn() { b.post(func() { b.emit.EndTurn() }) }

// sendFrame writes one frame through the live connection.
func (b *Binder) sendFrame(frame []byte) error {
	if b.link == nil {
		return conn.ErrNotConnected
	}
	return b.link.Send(frame)
}

func (b *Binder) connOpen() bool {
	return b.link != nil && b.link.State() == conn.StateOpen
}

// sendEndTurn is the machine's end-turn emitter.
func (b *Binder) sendEndTurn(rollServerID string) bool {
	frame, err := wire.Marshal(wire.TypeTurnEnd, b.sessionID, wire.EndTurnPayload{
		SessionID:    b.sessionID,
		PlayerID:     b.localID,
		RollServerID: rollServerID,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal end-turn")
		return false
	}
	if err := b.sendFrame(frame); err != nil {
		log.Warn().Err(err).Msg("end-turn send failed")
		return false
	}
	return true
}

// requestResync lets components ask for truth through the watchdog's
// cooldown gate.
func (b *Binder) requestResync(reason string) {
	b.watchdog.RequestResync(reason)
}

// sendResync is the watchdog's wire-side resync request.
func (b *Binder) sendResync(reason string) bool {
	frame, err := wire.Marshal(wire.TypeResyncRequest, b.sessionID, wire.ResyncRequestPayload{
		SessionID: b.sessionID,
		PlayerID:  b.localID,
		Reason:    reason,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal resync request")
		return false
	}
	if err := b.sendFrame(frame); err != nil {
		return false
	}
	log.Info().Str("reason", reason).Msg("resync requested")
	return true
}

// disposeBinding tears down the previous binding: socket, timers, previews,
// clock estimate, local turn state.
func (b *Binder) disposeBinding() {
	if b.bindCancel != nil {
		b.bindCancel()
		b.bindCancel = nil
	}
	if b.link != nil {
		b.link.Close()
		b.link = nil
	}
	b.watchdog.Stop()
	b.timers.CancelAll()
	b.replay.Reset()
	b.machine.Reset(true)
	b.clocks.Reset()
	b.sess = nil
	b.sessionID = ""
}

func (b *Binder) dispose() {
	b.disposeBinding()
}

// continueSolo is the local-only fallback: gameplay continues with the
// local participant as sole authoritative turn-holder.
func (b *Binder) continueSolo() {
	if b.bindCancel != nil {
		b.bindCancel()
		b.bindCancel = nil
	}
	if b.link != nil {
		b.link.Close()
		b.link = nil
	}
	b.watchdog.Stop()
	b.replay.Reset()
	b.machine.Reset(false)
	b.solo = true
	b.recovering = false
	if b.sess != nil {
		next := *b.sess
		next.TurnsEnforced = false
		b.sess = &next
	}
	log.Info().Msg("continuing in local-only mode")
}
