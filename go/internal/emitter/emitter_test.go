package emitter

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dicehall/dicehall/go/internal/clocksync"
	"github.com/dicehall/dicehall/go/internal/conn"
	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/timerset"
	"github.com/dicehall/dicehall/go/internal/turn"
	"github.com/dicehall/dicehall/go/internal/wire"
)

type nopPresenter struct{ preRoll bool }

func (p *nopPresenter) InPreRoll() bool          { return p.preRoll }
func (p *nopPresenter) ApplyRoll(map[string]int) {}
func (p *nopPresenter) ClearRoll()               { p.preRoll = true }
func (p *nopPresenter) Notify(models.Notice)     {}

type harness struct {
	clock   *clockwork.FakeClock
	machine *turn.Machine
	emitter *Emitter
	session *models.Session

	mu      sync.Mutex
	frames  [][]byte
	notices []models.Notice
	sendErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClockAt(time.UnixMilli(5_000_000)),
		session: &models.Session{
			ID:            "s1",
			TurnsEnforced: true,
			Participants: []models.Participant{
				{ID: "p1", Seated: true, Ready: true},
				{ID: "p2", Seated: true, Ready: true},
			},
		},
	}
	dice := models.DiceTable{
		"d1": {ID: "d1", Faces: 6, InPlay: true},
		"d2": {ID: "d2", Faces: 8, InPlay: true},
		"d3": {ID: "d3", Faces: 12, InPlay: true, Scored: true},
	}
	timers := timerset.New(h.clock, func(fn func()) { fn() })
	send := func(frame []byte) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.sendErr != nil {
			return h.sendErr
		}
		h.frames = append(h.frames, frame)
		return nil
	}
	h.machine = turn.NewMachine("p1", dice, clocksync.New(h.clock), h.clock,
		timers, &nopPresenter{preRoll: true},
		func(rollID string) bool {
			payload := wire.EndTurnPayload{SessionID: "s1", PlayerID: "p1", RollServerID: rollID}
			frame, err := wire.Marshal(wire.TypeTurnEnd, "s1", payload)
			if err != nil {
				return false
			}
			return send(frame) == nil
		},
		func(string) {})
	h.emitter = New(Deps{
		LocalID: "p1",
		Machine: h.machine,
		Dice:    dice,
		Clock:   h.clock,
		Timers:  timers,
		Session: func() *models.Session { return h.session },
		Send:    send,
		Score: func(dieIDs []string) int {
			// faces minus value stands in for the game-rules collaborator
			return len(dieIDs) * 3
		},
		Notify: func(n models.Notice) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notices = append(h.notices, n)
		},
	})
	return h
}

func (h *harness) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func (h *harness) decoded(t *testing.T, i int) (wire.Envelope, any) {
	t.Helper()
	h.mu.Lock()
	frame := h.frames[i]
	h.mu.Unlock()
	env, err := wire.Decode(frame)
	require.NoError(t, err)
	payload, err := wire.DecodePayload(env)
	require.NoError(t, err)
	return env, payload
}

func (h *harness) lastNotice(t *testing.T) models.Notice {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.notices)
	return h.notices[len(h.notices)-1]
}

func (h *harness) startLocalTurn() {
	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "p1", ExpiresAtMs: 5_030_000})
}

func TestRollRejectedWhenNotLocalTurn(t *testing.T) {
	h := newHarness(t)
	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "p2"})

	require.False(t, h.emitter.Roll())
	require.Zero(t, h.frameCount(), "no payload may be sent out of turn")

	n := h.lastNotice(t)
	require.Equal(t, models.NoticeNotYourTurn, n.Kind)
	require.Equal(t, "waiting for p2", n.Text)
}

func TestRollSendsRequestAndMarksPending(t *testing.T) {
	h := newHarness(t)
	h.startLocalTurn()

	require.True(t, h.emitter.Roll())
	require.Equal(t, 1, h.frameCount())

	env, payload := h.decoded(t, 0)
	require.Equal(t, wire.TypeTurnAction, env.Type)
	action := payload.(wire.TurnActionPayload)
	require.Equal(t, wire.ActionRoll, action.Action)
	require.NotNil(t, action.RollRequest)
	require.ElementsMatch(t, []string{"d1", "d2"}, action.RollRequest.DieIDs, "scored dice stay out of the roll")
	require.Equal(t, 6, action.RollRequest.Faces["d1"])

	pending := h.machine.Pending()
	require.NotNil(t, pending)
	require.Equal(t, wire.ActionRoll, pending.Kind)
	require.Equal(t, action.AttemptID, pending.AttemptID)
}

func TestRollWhileOffline(t *testing.T) {
	h := newHarness(t)
	h.startLocalTurn()
	h.mu.Lock()
	h.sendErr = conn.ErrNotConnected
	h.mu.Unlock()

	require.False(t, h.emitter.Roll())
	require.Nil(t, h.machine.Pending(), "failed send must not mutate optimistic state")
	require.Equal(t, models.NoticeOffline, h.lastNotice(t).Kind)
}

func TestNotSeatedAndNotReadyReasons(t *testing.T) {
	h := newHarness(t)
	h.startLocalTurn()

	h.session.Participants[0].Seated = false
	require.False(t, h.emitter.Roll())
	require.Equal(t, models.NoticeNotSeated, h.lastNotice(t).Kind)

	h.session.Participants[0].Seated = true
	h.session.Participants[0].Ready = false
	require.False(t, h.emitter.Roll())
	require.Equal(t, models.NoticeNotReady, h.lastNotice(t).Kind)

	h.session.Participants[0].Ready = true
	h.session.Participants[1].Ready = false
	require.False(t, h.emitter.Roll())
	require.Equal(t, models.NoticeWaitingReady, h.lastNotice(t).Kind)
}

func TestSelectDebounceCoalesces(t *testing.T) {
	h := newHarness(t)
	h.startLocalTurn()

	require.True(t, h.emitter.Select([]string{"d1"}))
	require.True(t, h.emitter.Select([]string{"d1", "d2"}))
	require.Zero(t, h.frameCount(), "selection sync is debounced")

	h.clock.BlockUntil(1)
	h.clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return h.frameCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, payload := h.decoded(t, 0)
	action := payload.(wire.TurnActionPayload)
	require.Equal(t, wire.ActionSelect, action.Action)
	require.Equal(t, []string{"d1", "d2"}, action.Select, "only the final selection goes out")
}

func TestScoreCarriesPointsAndRollID(t *testing.T) {
	h := newHarness(t)
	phase := models.PhaseAwaitingScore
	h.machine.HandleTurnStart(wire.TurnStartPayload{
		PlayerID: "p1",
		Phase:    &phase,
		ActiveRoll: &models.RollSnapshot{Index: 1, ServerID: "roll-7", Dice: []models.RollDie{
			{DieID: "d1", Faces: 6, Value: 3},
			{DieID: "d2", Faces: 8, Value: 5},
		}},
	})

	require.True(t, h.emitter.Score([]string{"d1", "d2"}))
	_, payload := h.decoded(t, 0)
	action := payload.(wire.TurnActionPayload)
	require.Equal(t, wire.ActionScore, action.Action)
	require.Equal(t, 6, action.Score.Points)
	require.Equal(t, "roll-7", action.Score.RollServerID)
	require.Equal(t, []string{"d1", "d2"}, action.Score.DieIDs)
}

func TestScoreRequiresSelection(t *testing.T) {
	h := newHarness(t)
	phase := models.PhaseAwaitingScore
	h.machine.HandleTurnStart(wire.TurnStartPayload{
		PlayerID:   "p1",
		Phase:      &phase,
		ActiveRoll: &models.RollSnapshot{Index: 1, Dice: []models.RollDie{{DieID: "d1", Faces: 6, Value: 3}}},
	})

	require.False(t, h.emitter.Score(nil))
	require.Equal(t, models.NoticeActionRequired, h.lastNotice(t).Kind)
}

func TestEndTurnAuthorityAndDedup(t *testing.T) {
	h := newHarness(t)
	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "p2"})
	require.False(t, h.emitter.EndTurn())
	require.Zero(t, h.frameCount())

	phase := models.PhaseAwaitingScore
	h.machine.HandleTurnStart(wire.TurnStartPayload{
		PlayerID:   "p1",
		Phase:      &phase,
		ActiveRoll: &models.RollSnapshot{Index: 1, ServerID: "roll-4", Dice: []models.RollDie{{DieID: "d1", Faces: 6, Value: 3}}},
	})
	require.True(t, h.emitter.EndTurn())
	require.Equal(t, 1, h.frameCount())

	// Same roll: the machine refuses to end it twice.
	require.True(t, h.emitter.EndTurn())
	require.Equal(t, 1, h.frameCount())
}
