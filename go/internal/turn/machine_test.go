package turn

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dicehall/dicehall/go/internal/clocksync"
	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/timerset"
	"github.com/dicehall/dicehall/go/internal/wire"
)

type fakePresenter struct {
	mu      sync.Mutex
	preRoll bool
	applied []map[string]int
	cleared int
	notices []models.Notice
}

func (p *fakePresenter) InPreRoll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preRoll
}

func (p *fakePresenter) ApplyRoll(values map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, values)
	p.preRoll = false
}

func (p *fakePresenter) ClearRoll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
	p.preRoll = true
}

func (p *fakePresenter) Notify(n models.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
}

type machineHarness struct {
	clock     *clockwork.FakeClock
	presenter *fakePresenter
	machine   *Machine

	mu       sync.Mutex
	endTurns []string
	resyncs  []string
	sendOK   bool
}

func newMachineHarness(t *testing.T) *machineHarness {
	t.Helper()
	h := &machineHarness{
		clock:     clockwork.NewFakeClockAt(time.UnixMilli(1_000_000)),
		presenter: &fakePresenter{preRoll: true},
		sendOK:    true,
	}
	dice := models.DiceTable{
		"d1": {ID: "d1", Faces: 6, InPlay: true},
		"d2": {ID: "d2", Faces: 8, InPlay: true},
		"d3": {ID: "d3", Faces: 20, InPlay: true},
	}
	clocks := clocksync.New(h.clock)
	timers := timerset.New(h.clock, func(fn func()) { fn() })
	h.machine = NewMachine("p1", dice, clocks, h.clock, timers, h.presenter,
		func(rollID string) bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.sendOK {
				h.endTurns = append(h.endTurns, rollID)
			}
			return h.sendOK
		},
		func(reason string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.resyncs = append(h.resyncs, reason)
		})
	return h
}

func (h *machineHarness) endTurnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.endTurns)
}

func (h *machineHarness) resyncCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.resyncs)
}

func TestRemoteTurnStart(t *testing.T) {
	h := newMachineHarness(t)

	h.machine.HandleTurnStart(wire.TurnStartPayload{
		PlayerID:    "p2",
		ExpiresAtMs: 1_030_000,
	})

	require.False(t, h.machine.IsLocalTurn())
	require.Equal(t, "p2", h.machine.ActivePlayer())
	deadline, ok := h.machine.Deadline()
	require.True(t, ok)
	require.Equal(t, time.UnixMilli(1_030_000), deadline)
}

func TestLocalTurnStartAwaitingRoll(t *testing.T) {
	h := newMachineHarness(t)

	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "p1"})

	require.True(t, h.machine.IsLocalTurn())
	require.Equal(t, models.PhaseAwaitingRoll, h.machine.Phase())
}

func TestReadyToEndRecoveryEmitsEndTurnOncePerRoll(t *testing.T) {
	h := newMachineHarness(t)
	phase := models.PhaseReadyToEnd
	start := wire.TurnStartPayload{
		PlayerID:     "p1",
		Phase:        &phase,
		ActiveRoll:   &models.RollSnapshot{Index: 2, ServerID: "roll-9", Dice: []models.RollDie{{DieID: "d1", Faces: 6, Value: 4}}},
		RollServerID: "roll-9",
	}

	h.machine.HandleTurnStart(start)
	require.Equal(t, 1, h.endTurnCount())

	// Recovery replays the same snapshot; the same roll must not be ended twice.
	h.machine.HandleTurnStart(start)
	require.Equal(t, 1, h.endTurnCount())
}

func TestAwaitingScoreRecoveryReplaysRoll(t *testing.T) {
	h := newMachineHarness(t)
	phase := models.PhaseAwaitingScore
	h.machine.HandleTurnStart(wire.TurnStartPayload{
		PlayerID: "p1",
		Phase:    &phase,
		ActiveRoll: &models.RollSnapshot{Index: 1, ServerID: "roll-3", Dice: []models.RollDie{
			{DieID: "d1", Faces: 6, Value: 2},
			{DieID: "d2", Faces: 8, Value: 7},
		}},
	})

	require.Equal(t, models.PhaseAwaitingScore, h.machine.Phase())
	require.Len(t, h.presenter.applied, 1)
	require.Equal(t, map[string]int{"d1": 2, "d2": 7}, h.presenter.applied[0])
	require.Equal(t, "roll-3", h.machine.RollServerID())
}

func TestAwaitingScoreRecoverySkipsReplayWhenAlreadyRolled(t *testing.T) {
	h := newMachineHarness(t)
	h.presenter.preRoll = false
	phase := models.PhaseAwaitingScore
	h.machine.HandleTurnStart(wire.TurnStartPayload{
		PlayerID:   "p1",
		Phase:      &phase,
		ActiveRoll: &models.RollSnapshot{Index: 1, Dice: []models.RollDie{{DieID: "d1", Faces: 6, Value: 2}}},
	})

	require.Equal(t, models.PhaseAwaitingScore, h.machine.Phase())
	require.Empty(t, h.presenter.applied)
}

func TestApplyAuthoritativeRollValidation(t *testing.T) {
	cases := []struct {
		name    string
		snap    *models.RollSnapshot
		wantErr error
	}{
		{
			name:    "unknown die id",
			snap:    &models.RollSnapshot{Dice: []models.RollDie{{DieID: "ghost", Faces: 6, Value: 3}}},
			wantErr: ErrUnknownDie,
		},
		{
			name:    "face count mismatch",
			snap:    &models.RollSnapshot{Dice: []models.RollDie{{DieID: "d1", Faces: 10, Value: 3}}},
			wantErr: ErrFacesMismatch,
		},
		{
			name:    "nil snapshot",
			snap:    nil,
			wantErr: ErrNoRoll,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newMachineHarness(t)
			err := h.machine.ApplyAuthoritativeRoll(tc.snap)
			require.ErrorIs(t, err, tc.wantErr)
			require.Empty(t, h.presenter.applied, "failed replay must not mutate presentation")
		})
	}
}

func TestApplyAuthoritativeRollRejectsPartialMismatch(t *testing.T) {
	h := newMachineHarness(t)
	err := h.machine.ApplyAuthoritativeRoll(&models.RollSnapshot{Dice: []models.RollDie{
		{DieID: "d1", Faces: 6, Value: 4},
		{DieID: "d2", Faces: 12, Value: 5}, // wrong faces
	}})

	require.ErrorIs(t, err, ErrFacesMismatch)
	require.Empty(t, h.presenter.applied)
	require.Zero(t, h.machine.dice["d1"].Value, "no die may be partially applied")
}

func TestApplyAuthoritativeRollClampsValues(t *testing.T) {
	h := newMachineHarness(t)
	err := h.machine.ApplyAuthoritativeRoll(&models.RollSnapshot{Dice: []models.RollDie{
		{DieID: "d1", Faces: 6, Value: 0},
		{DieID: "d2", Faces: 8, Value: 99},
	}})

	require.NoError(t, err)
	require.Equal(t, map[string]int{"d1": 1, "d2": 8}, h.presenter.applied[0])
}

func TestTurnEndSchedulesRecoveryResync(t *testing.T) {
	h := newMachineHarness(t)
	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "bot-3"})

	h.machine.HandleTurnEnd(wire.TurnEndPayload{PlayerID: "bot-3"})
	require.Equal(t, "", h.machine.ActivePlayer())
	require.Zero(t, h.resyncCount())

	h.clock.BlockUntil(1)
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.resyncCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestTurnStartCancelsTransitionRecovery(t *testing.T) {
	h := newMachineHarness(t)
	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "bot-3"})
	h.machine.HandleTurnEnd(wire.TurnEndPayload{PlayerID: "bot-3"})

	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "p1"})
	h.clock.Advance(time.Second)

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, h.resyncCount(), "new turn_start must cancel recovery timer")
}

func TestSnapshotNullActiveParticipant(t *testing.T) {
	h := newMachineHarness(t)
	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "p2"})

	// Enforced: clear.
	h.machine.ApplyTurnState(nil, true, []string{"p2", "p1"})
	require.Equal(t, "", h.machine.ActivePlayer())

	// Not enforced: deterministic fallback to first in turn order.
	h.machine.ApplyTurnState(nil, false, []string{"p2", "p1"})
	require.Equal(t, "p2", h.machine.ActivePlayer())

	// Not enforced, no plan: local participant.
	h.machine.ApplyTurnState(nil, false, nil)
	require.Equal(t, "p1", h.machine.ActivePlayer())
}

func TestSnapshotWinsOverDiscreteEvents(t *testing.T) {
	h := newMachineHarness(t)
	h.machine.HandleTurnStart(wire.TurnStartPayload{PlayerID: "p2"})

	h.machine.ApplyTurnState(&models.TurnState{
		ActivePlayerID: "bot-3",
		Phase:          models.PhaseAwaitingRoll,
		ExpiresAtMs:    1_045_000,
	}, true, []string{"p1", "p2", "bot-3"})

	require.Equal(t, "bot-3", h.machine.ActivePlayer())
	deadline, ok := h.machine.Deadline()
	require.True(t, ok)
	require.Equal(t, time.UnixMilli(1_045_000), deadline)
}
