// Package emitter gates locally-initiated intents behind the authority
// predicate and serializes them onto the connection. Optimistic local state
// never includes invented dice values: results come only from the server's
// echo.
package emitter

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/conn"
	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/timerset"
	"github.com/dicehall/dicehall/go/internal/turn"
	"github.com/dicehall/dicehall/go/internal/wire"
)

const timerSelectDebounce = "emitter.select_debounce"

// DefaultDebounce coalesces rapid selection toggles into one sync frame.
const DefaultDebounce = 80 * time.Millisecond

// Deps wires the emitter into the rest of the engine.
type Deps struct {
	LocalID string
	Machine *turn.Machine
	Dice    models.DiceTable
	Clock   clockwork.Clock
	Timers  *timerset.Set

	// Session returns the currently bound session for precondition checks.
	Session func() *models.Session
	// Send puts a frame on the wire; conn.ErrNotConnected means offline.
	Send func(frame []byte) error
	// Score computes points for the selected dice. The arithmetic lives
	// with the game-rules collaborator, not here.
	Score func(dieIDs []string) int
	// Notify surfaces rejection reasons and transient statuses.
	Notify func(n models.Notice)
}

// Emitter validates and sends the four local intents.
type Emitter struct {
	deps     Deps
	debounce time.Duration

	pendingSelect []string
}

// New creates an Emitter with the default debounce window.
func New(deps Deps) *Emitter {
	return &Emitter{deps: deps, debounce: DefaultDebounce}
}

// SetDebounce overrides the selection debounce window (fast-demo sessions
// use a shorter one).
func (e *Emitter) SetDebounce(d time.Duration) { e.debounce = d }

// authorize runs the shared preconditions. A false return has already
// surfaced a specific user-facing reason.
func (e *Emitter) authorize() bool {
	sess := e.deps.Session()
	if sess == nil {
		e.deps.Notify(models.Notice{Kind: models.NoticeWaitingSync, Text: "waiting for sync"})
		return false
	}

	local := sess.Participant(e.deps.LocalID)
	if local == nil || !local.Seated {
		e.deps.Notify(models.Notice{Kind: models.NoticeNotSeated, Text: "take a seat first"})
		return false
	}
	if !local.Ready {
		e.deps.Notify(models.Notice{Kind: models.NoticeNotReady, Text: "ready up first"})
		return false
	}
	if sess.TurnsEnforced && !allReady(sess) {
		e.deps.Notify(models.Notice{Kind: models.NoticeWaitingReady, Text: "waiting for others to ready"})
		return false
	}

	if !e.deps.Machine.IsLocalTurn() {
		active := e.deps.Machine.ActivePlayer()
		if active == "" {
			e.deps.Notify(models.Notice{Kind: models.NoticeWaitingSync, Text: "waiting for sync"})
		} else {
			e.deps.Notify(models.Notice{
				Kind:    models.NoticeNotYourTurn,
				Subject: active,
				Text:    fmt.Sprintf("waiting for %s", active),
			})
		}
		return false
	}
	return true
}

func allReady(s *models.Session) bool {
	for i := range s.Participants {
		p := &s.Participants[i]
		if p.Seated && !p.Ready {
			return false
		}
	}
	return true
}

// Roll asks the server to roll every in-play, unscored die. Returns whether
// the intent reached the wire.
func (e *Emitter) Roll() bool {
	if !e.authorize() {
		return false
	}
	if e.deps.Machine.Phase() != models.PhaseAwaitingRoll {
		e.deps.Notify(models.Notice{Kind: models.NoticeActionRequired, Text: "score or end your turn first"})
		return false
	}

	ids := e.deps.Dice.Rollable()
	faces := make(map[string]int, len(ids))
	for _, id := range ids {
		faces[id] = e.deps.Dice[id].Faces
	}

	attemptID := uuid.New().String()
	payload := wire.TurnActionPayload{
		SessionID:   e.sessionID(),
		PlayerID:    e.deps.LocalID,
		Action:      wire.ActionRoll,
		AttemptID:   attemptID,
		RollRequest: &wire.RollRequest{DieIDs: ids, Faces: faces},
		TimestampMs: e.deps.Clock.Now().UnixMilli(),
	}
	if !e.send(wire.TypeTurnAction, payload) {
		return false
	}

	// Optimistically awaiting confirmation; die values are applied only
	// from the server's echo so client and server always agree.
	e.deps.Machine.SetPending(&turn.PendingAction{
		Kind:      wire.ActionRoll,
		AttemptID: attemptID,
		SentAt:    e.deps.Clock.Now(),
	})
	log.Debug().Str("attempt_id", attemptID).Int("dice", len(ids)).Msg("roll sent")
	return true
}

// Select records a new selection and schedules the debounced sync; rapid
// toggles inside the window collapse into a single frame.
func (e *Emitter) Select(dieIDs []string) bool {
	if !e.authorize() {
		return false
	}

	e.pendingSelect = append([]string(nil), dieIDs...)
	e.deps.Timers.Schedule(timerSelectDebounce, e.debounce, e.flushSelect)
	return true
}

func (e *Emitter) flushSelect() {
	payload := wire.TurnActionPayload{
		SessionID:   e.sessionID(),
		PlayerID:    e.deps.LocalID,
		Action:      wire.ActionSelect,
		Select:      e.pendingSelect,
		TimestampMs: e.deps.Clock.Now().UnixMilli(),
	}
	e.send(wire.TypeTurnAction, payload)
}

// Score submits the selected dice against the roll they came from.
func (e *Emitter) Score(dieIDs []string) bool {
	if !e.authorize() {
		return false
	}
	if e.deps.Machine.Phase() != models.PhaseAwaitingScore {
		e.deps.Notify(models.Notice{Kind: models.NoticeActionRequired, Text: "roll before scoring"})
		return false
	}
	if len(dieIDs) == 0 {
		e.deps.Notify(models.Notice{Kind: models.NoticeActionRequired, Text: "select dice to score"})
		return false
	}

	// Cancel any straggling selection sync; the score supersedes it.
	e.deps.Timers.Cancel(timerSelectDebounce)

	attemptID := uuid.New().String()
	payload := wire.TurnActionPayload{
		SessionID: e.sessionID(),
		PlayerID:  e.deps.LocalID,
		Action:    wire.ActionScore,
		AttemptID: attemptID,
		Score: &wire.ScoreAction{
			DieIDs:       dieIDs,
			Points:       e.deps.Score(dieIDs),
			RollServerID: e.deps.Machine.RollServerID(),
		},
		TimestampMs: e.deps.Clock.Now().UnixMilli(),
	}
	if !e.send(wire.TypeTurnAction, payload) {
		return false
	}

	e.deps.Machine.SetPending(&turn.PendingAction{
		Kind:      wire.ActionScore,
		AttemptID: attemptID,
		SentAt:    e.deps.Clock.Now(),
	})
	return true
}

// EndTurn signals the turn is finished. Deduplication per roll id lives in
// the machine.
func (e *Emitter) EndTurn() bool {
	if !e.authorize() {
		return false
	}
	e.deps.Machine.EmitEndTurn()
	return true
}

func (e *Emitter) sessionID() string {
	if sess := e.deps.Session(); sess != nil {
		return sess.ID
	}
	return ""
}

// send marshals and writes one frame, translating an offline failure into
// a user notice. State is never mutated on a failed send.
func (e *Emitter) send(t wire.MessageType, payload any) bool {
	frame, err := wire.Marshal(t, e.sessionID(), payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("marshal outbound frame")
		return false
	}
	if err := e.deps.Send(frame); err != nil {
		if errors.Is(err, conn.ErrNotConnected) {
			e.deps.Notify(models.Notice{Kind: models.NoticeOffline, Text: "currently offline"})
		} else {
			log.Warn().Err(err).Str("type", string(t)).Msg("send failed")
		}
		return false
	}
	return true
}
