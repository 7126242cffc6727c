// Package turn tracks whose turn it is, which phase it is in, and when it
// expires, reconciling discrete server events against periodic authoritative
// snapshots.
package turn

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/clocksync"
	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/timerset"
	"github.com/dicehall/dicehall/go/internal/wire"
)

var (
	ErrUnknownDie    = errors.New("turn: roll references unknown die")
	ErrFacesMismatch = errors.New("turn: roll face count does not match die definition")
	ErrNoRoll        = errors.New("turn: no roll snapshot to apply")
)

// timerTransitionRecovery is armed when a turn_end leaves no active
// participant; if no turn_start follows, a resync is requested.
const timerTransitionRecovery = "turn.transition_recovery"

// transitionRecoveryDelay bounds how long a turn may sit with no active
// participant before truth is re-requested.
const transitionRecoveryDelay = 950 * time.Millisecond

// Presenter is what the machine needs from the rendering collaborator.
type Presenter interface {
	// InPreRoll reports whether the local presentation is still showing the
	// pre-roll state of the current turn.
	InPreRoll() bool
	// ApplyRoll replays authoritative die values into the local dice and
	// moves the presentation to the rolled-but-unscored state.
	ApplyRoll(values map[string]int)
	// ClearRoll resets the presentation for a fresh turn.
	ClearRoll()
	// Notify surfaces a user-facing notice.
	Notify(n models.Notice)
}

// PendingAction is an in-flight optimistic local action awaiting the
// server's echoed confirmation.
type PendingAction struct {
	Kind      wire.ActionKind
	AttemptID string
	SentAt    time.Time
}

// Machine is the locally-believed turn state. Single owner: the session
// loop; no internal locking.
type Machine struct {
	localID   string
	dice      models.DiceTable
	clocks    *clocksync.Synchronizer
	clock     clockwork.Clock
	timers    *timerset.Set
	presenter Presenter

	// sendEndTurn serializes an end-turn signal for the given roll server
	// id; it reports whether the send reached the wire.
	sendEndTurn   func(rollServerID string) bool
	requestResync func(reason string)

	active        string
	deadline      time.Time
	hasDeadline   bool
	phase         models.Phase
	activeRoll    *models.RollSnapshot
	rollServerID  string
	turnsEnforced bool
	turnOrder     []string

	pending *PendingAction

	// endedRollID suppresses duplicate end-turn emissions for the same
	// server roll id when recovery replays a ready_to_end phase.
	endedRollID    string
	pendingEndTurn bool
}

// NewMachine builds a turn machine for the local participant.
func NewMachine(localID string, dice models.DiceTable, clocks *clocksync.Synchronizer,
	clock clockwork.Clock, timers *timerset.Set, presenter Presenter,
	sendEndTurn func(rollServerID string) bool, requestResync func(reason string)) *Machine {
	return &Machine{
		localID:       localID,
		dice:          dice,
		clocks:        clocks,
		clock:         clock,
		timers:        timers,
		presenter:     presenter,
		sendEndTurn:   sendEndTurn,
		requestResync: requestResync,
		phase:         models.PhaseAwaitingRoll,
		turnsEnforced: true,
	}
}

// IsLocalTurn is the authority predicate every user-facing action must pass
// before any optimistic mutation.
func (m *Machine) IsLocalTurn() bool {
	return m.active != "" && m.active == m.localID
}

// ActivePlayer returns the participant currently believed to hold the turn.
func (m *Machine) ActivePlayer() string { return m.active }

// Phase returns the local phase. Meaningful only while IsLocalTurn.
func (m *Machine) Phase() models.Phase { return m.phase }

// ActiveRoll returns the in-flight roll snapshot, if any.
func (m *Machine) ActiveRoll() *models.RollSnapshot { return m.activeRoll }

// RollServerID returns the server-assigned id of the active roll.
func (m *Machine) RollServerID() string { return m.rollServerID }

// TurnsEnforced reports whether the active-turn rule currently applies.
func (m *Machine) TurnsEnforced() bool { return m.turnsEnforced }

// Deadline returns the turn deadline in local time, if one is set.
func (m *Machine) Deadline() (time.Time, bool) { return m.deadline, m.hasDeadline }

// DeadlineElapsed reports whether a known deadline has visibly passed.
func (m *Machine) DeadlineElapsed() bool {
	return m.hasDeadline && m.clock.Now().After(m.deadline)
}

// Pending returns the in-flight optimistic action, if any.
func (m *Machine) Pending() *PendingAction { return m.pending }

// SetPending records an optimistic local action awaiting confirmation.
func (m *Machine) SetPending(p *PendingAction) { m.pending = p }

// ClearPending drops the in-flight action (confirmed or superseded).
func (m *Machine) ClearPending() { m.pending = nil }

// SetPhase moves the local phase; used by the emitter after confirmed
// actions.
func (m *Machine) SetPhase(p models.Phase) { m.phase = p }

// HandleTurnStart applies a turn_start event.
func (m *Machine) HandleTurnStart(p wire.TurnStartPayload) {
	m.timers.Cancel(timerTransitionRecovery)

	m.active = p.PlayerID
	m.setDeadline(p.ExpiresAtMs)
	m.activeRoll = p.ActiveRoll
	m.rollServerID = p.RollServerID
	if p.ActiveRoll != nil && p.ActiveRoll.ServerID != "" {
		m.rollServerID = p.ActiveRoll.ServerID
	}

	phase := models.PhaseAwaitingRoll
	if p.Phase != nil && p.Phase.Valid() {
		phase = *p.Phase
	}

	log.Debug().
		Str("player_id", p.PlayerID).
		Str("phase", string(phase)).
		Bool("local", m.IsLocalTurn()).
		Msg("turn started")

	if m.IsLocalTurn() {
		m.recoverLocalPhase(phase)
	} else {
		m.phase = phase
		if phase == models.PhaseAwaitingRoll {
			m.presenter.ClearRoll()
		}
	}
}

// recoverLocalPhase restores the local mid-turn position from an
// authoritative snapshot: re-emits end-turn for ready_to_end, replays the
// supplied roll for awaiting_score when presentation is still pre-roll.
func (m *Machine) recoverLocalPhase(phase models.Phase) {
	switch phase {
	case models.PhaseReadyToEnd:
		m.phase = models.PhaseReadyToEnd
		m.EmitEndTurn()

	case models.PhaseAwaitingScore:
		if m.activeRoll == nil {
			// Invariant broken server-side; fall back to a fresh roll.
			m.phase = models.PhaseAwaitingRoll
			return
		}
		if m.presenter.InPreRoll() {
			if err := m.ApplyAuthoritativeRoll(m.activeRoll); err != nil {
				log.Warn().Err(err).Msg("roll replay rejected, requesting resync")
				m.requestResync("roll replay rejected")
				return
			}
		}
		m.phase = models.PhaseAwaitingScore

	default:
		m.phase = models.PhaseAwaitingRoll
		m.presenter.ClearRoll()
	}
}

// EmitEndTurn sends the end-turn signal for the active roll, deduplicated
// per roll server id so a recovery replay cannot end the same roll twice.
func (m *Machine) EmitEndTurn() {
	if m.rollServerID != "" && m.rollServerID == m.endedRollID {
		log.Debug().Str("roll_id", m.rollServerID).Msg("end-turn already emitted for roll")
		return
	}
	if m.sendEndTurn(m.rollServerID) {
		m.endedRollID = m.rollServerID
		m.pendingEndTurn = false
	} else {
		m.pendingEndTurn = true
	}
}

// FlushPendingEndTurn re-emits an end-turn that previously failed to send.
// Called after a successful resync.
func (m *Machine) FlushPendingEndTurn() {
	if m.pendingEndTurn && m.IsLocalTurn() && m.phase == models.PhaseReadyToEnd {
		m.EmitEndTurn()
	}
}

// HandleTurnEnd applies a turn_end event. An end for a participant we are
// not tracking schedules bounded transition recovery instead of guessing.
func (m *Machine) HandleTurnEnd(p wire.TurnEndPayload) {
	if m.active == "" || m.active == p.PlayerID {
		m.clearActive()
		m.scheduleTransitionRecovery()
		return
	}

	log.Debug().
		Str("ending", p.PlayerID).
		Str("tracked", m.active).
		Msg("turn_end for untracked participant")
	m.scheduleTransitionRecovery()
}

// HandleAutoAdvanced applies a turn_auto_advanced event.
func (m *Machine) HandleAutoAdvanced(p wire.TurnAutoAdvancedPayload) {
	m.presenter.Notify(models.Notice{
		Kind:    models.NoticeAutoAdvanced,
		Subject: p.PlayerID,
		Text:    fmt.Sprintf("turn advanced automatically (%s)", p.Reason),
	})
	if m.active == p.PlayerID {
		m.clearActive()
	}
	m.scheduleTransitionRecovery()
}

// HandleTimeoutWarning updates the deadline and surfaces the warning for
// the local participant.
func (m *Machine) HandleTimeoutWarning(p wire.TurnTimeoutWarningPayload) {
	m.setDeadline(p.ExpiresAtMs)
	if p.PlayerID == m.localID {
		m.presenter.Notify(models.Notice{
			Kind:    models.NoticeTimeoutSoon,
			Subject: p.PlayerID,
			Text:    fmt.Sprintf("%.0fs left in your turn", float64(p.RemainingMs)/1000),
		})
	}
}

// ApplyTurnState reconciles the authoritative turn state from a full
// session snapshot. A snapshot always wins over earlier discrete events.
func (m *Machine) ApplyTurnState(ts *models.TurnState, enforced bool, order []string) {
	m.turnsEnforced = enforced
	m.turnOrder = order

	if ts == nil || ts.ActivePlayerID == "" {
		if enforced {
			m.clearActive()
			return
		}
		// Degraded solo/bot-vs-local play: default deterministically.
		fallback := m.localID
		if len(order) > 0 {
			fallback = order[0]
		}
		m.active = fallback
		m.hasDeadline = false
		log.Debug().Str("player_id", fallback).Msg("turn enforcement off, defaulted active participant")
		return
	}

	m.timers.Cancel(timerTransitionRecovery)
	m.active = ts.ActivePlayerID
	m.setDeadline(ts.ExpiresAtMs)
	m.activeRoll = ts.ActiveRoll
	m.rollServerID = ts.RollServerID
	if ts.ActiveRoll != nil && ts.ActiveRoll.ServerID != "" {
		m.rollServerID = ts.ActiveRoll.ServerID
	}

	phase := ts.Phase
	if !phase.Valid() {
		phase = models.PhaseAwaitingRoll
	}
	if m.IsLocalTurn() {
		m.recoverLocalPhase(phase)
	} else {
		m.phase = phase
	}
}

// ApplyAuthoritativeRoll validates a server roll snapshot against the local
// die definitions and applies it all-or-nothing: on any unknown die or face
// mismatch nothing is mutated.
func (m *Machine) ApplyAuthoritativeRoll(snap *models.RollSnapshot) error {
	if snap == nil {
		return ErrNoRoll
	}

	values := make(map[string]int, len(snap.Dice))
	for _, die := range snap.Dice {
		def, ok := m.dice[die.DieID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDie, die.DieID)
		}
		if die.Faces != def.Faces {
			return fmt.Errorf("%w: die %s has %d faces, server sent %d",
				ErrFacesMismatch, die.DieID, def.Faces, die.Faces)
		}
		v := die.Value
		if v < 1 {
			v = 1
		}
		if v > def.Faces {
			v = def.Faces
		}
		values[die.DieID] = v
	}

	for id, v := range values {
		m.dice[id].Value = v
	}
	m.activeRoll = snap
	if snap.ServerID != "" {
		m.rollServerID = snap.ServerID
	}
	m.presenter.ApplyRoll(values)

	log.Debug().Int("dice", len(values)).Str("roll_id", snap.ServerID).Msg("authoritative roll applied")
	return nil
}

func (m *Machine) setDeadline(serverMs int64) {
	if local, ok := m.clocks.ToLocal(serverMs); ok {
		m.deadline = local
		m.hasDeadline = true
		return
	}
	m.deadline = time.Time{}
	m.hasDeadline = false
}

func (m *Machine) clearActive() {
	m.active = ""
	m.hasDeadline = false
	m.deadline = time.Time{}
	m.activeRoll = nil
	m.rollServerID = ""
	m.phase = models.PhaseAwaitingRoll
	m.presenter.ClearRoll()
}

// scheduleTransitionRecovery arms the stuck-transition timer: if no new
// turn_start lands before it fires, authoritative truth is re-requested.
func (m *Machine) scheduleTransitionRecovery() {
	m.timers.Schedule(timerTransitionRecovery, transitionRecoveryDelay, func() {
		if m.active == "" && m.turnsEnforced {
			m.requestResync("turn transition stuck")
		}
	})
}

// Reset clears all locally-believed turn state. Used on rebind and when
// falling back to local-only play.
func (m *Machine) Reset(turnsEnforced bool) {
	m.timers.Cancel(timerTransitionRecovery)
	m.clearActive()
	m.pending = nil
	m.pendingEndTurn = false
	m.endedRollID = ""
	m.turnsEnforced = turnsEnforced
	if !turnsEnforced {
		m.active = m.localID
	}
}
