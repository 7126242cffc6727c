package session

import (
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/emitter"
	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/wire"
)

// handleFrame decodes one inbound frame and routes its typed payload. Runs
// on the loop; every handler sees a quiescent engine.
func (b *Binder) handleFrame(frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Msg("undecodable frame dropped")
		return
	}
	if env.SessionID != "" && env.SessionID != b.sessionID {
		log.Debug().
			Str("frame_session", env.SessionID).
			Str("bound_session", b.sessionID).
			Msg("frame for unbound session dropped")
		return
	}

	payload, err := wire.DecodePayload(env)
	if err != nil {
		log.Warn().Err(err).Str("type", string(env.Type)).Msg("bad payload dropped")
		return
	}

	b.watchdog.Touch()

	switch p := payload.(type) {
	case wire.TurnStartPayload:
		b.machine.HandleTurnStart(p)
		if p.PlayerID != b.localID && p.ActiveRoll != nil {
			b.replay.ObserveRoll(p.PlayerID, p.ActiveRoll)
		}

	case wire.TurnEndPayload:
		b.clocks.Observe(p.TimestampMs)
		b.machine.HandleTurnEnd(p)
		b.replay.TurnEnded(p.PlayerID)

	case wire.TurnTimeoutWarningPayload:
		b.clocks.Observe(p.TimestampMs)
		b.machine.HandleTimeoutWarning(p)

	case wire.TurnAutoAdvancedPayload:
		b.clocks.Observe(p.TimestampMs)
		b.machine.HandleAutoAdvanced(p)
		b.replay.TurnEnded(p.PlayerID)

	case wire.TurnActionPayload:
		b.clocks.Observe(p.TimestampMs)
		b.handleTurnAction(p)

	case wire.SessionStatePayload:
		b.applySnapshot(p)

	case wire.SessionExpiredPayload:
		b.handleExpired(p)

	case wire.ErrorPayload:
		b.handleError(p)

	default:
		log.Warn().Str("type", string(env.Type)).Msg("unrouted message type")
	}
}

// handleTurnAction splits the feed: the local participant's echoes confirm
// optimistic intents, everyone else's actions drive spectator previews.
func (b *Binder) handleTurnAction(p wire.TurnActionPayload) {
	if p.PlayerID == b.localID {
		b.handleLocalEcho(p)
		return
	}

	switch p.Action {
	case wire.ActionRoll:
		b.replay.ObserveRoll(p.PlayerID, p.Roll)
	case wire.ActionSelect:
		b.replay.ObserveSelect(p.PlayerID, p.Select)
	case wire.ActionScore:
		if p.Score != nil {
			b.replay.ObserveScore(p.PlayerID, *p.Score)
		}
	}
}

// handleLocalEcho applies the server's confirmation of a local action. Die
// values only ever enter local state here, from the echoed roll.
func (b *Binder) handleLocalEcho(p wire.TurnActionPayload) {
	if pending := b.machine.Pending(); pending != nil &&
		(p.AttemptID == "" || p.AttemptID == pending.AttemptID) {
		b.machine.ClearPending()
	}

	switch p.Action {
	case wire.ActionRoll:
		if err := b.machine.ApplyAuthoritativeRoll(p.Roll); err != nil {
			log.Warn().Err(err).Msg("echoed roll rejected, requesting resync")
			b.requestResync("echoed roll rejected")
			return
		}
		b.machine.SetPhase(models.PhaseAwaitingScore)

	case wire.ActionScore:
		if p.Score != nil {
			for _, id := range p.Score.DieIDs {
				if die, ok := b.dice[id]; ok {
					die.Scored = true
				}
			}
		}
		b.machine.SetPhase(models.PhaseReadyToEnd)
	}
}

// applySnapshot replaces the session value from an authoritative
// session_state frame. Optional fields absent from the payload stay at
// their previous value; the snapshot never partially mutates in place.
func (b *Binder) applySnapshot(p wire.SessionStatePayload) {
	b.clocks.Observe(p.ServerNowMs)

	var next models.Session
	if b.sess != nil {
		next = *b.sess
	}
	next.ID = p.SessionID
	if next.ID == "" {
		next.ID = b.sessionID
	}

	if p.Participants != nil {
		next.Participants = p.Participants
	}
	if p.Standings != nil {
		next.Standings = p.Standings
	}
	if p.SessionComplete != nil {
		next.Complete = *p.SessionComplete
	}
	if p.TurnsEnforced != nil {
		next.TurnsEnforced = *p.TurnsEnforced
	}
	if p.FastDemo != nil {
		next.FastDemo = *p.FastDemo
	}
	if p.Round != nil {
		next.Round = *p.Round
	}
	if p.TurnNumber != nil {
		next.TurnNumber = *p.TurnNumber
	}
	if p.AutoAdvanceMs != nil {
		next.AutoAdvanceMs = *p.AutoAdvanceMs
	}
	if p.GameStartedAtMs != nil {
		if t, ok := b.clocks.ToLocal(*p.GameStartedAtMs); ok {
			next.GameStartedAt = &t
		}
	}
	if p.NextGameStartMs != nil {
		if t, ok := b.clocks.ToLocal(*p.NextGameStartMs); ok {
			next.NextGameStartAt = &t
		}
	}
	if p.HasTurnState || p.TurnState != nil {
		next.Turn = p.TurnState
	}
	b.sess = &next

	debounce := emitter.DefaultDebounce
	if next.FastDemo {
		debounce = emitter.DefaultDebounce / 2
	}
	b.emit.SetDebounce(debounce)

	// Snapshots always win over earlier discrete events.
	b.machine.ApplyTurnState(next.Turn, next.TurnsEnforced, next.TurnOrder())
	if next.Turn != nil && next.Turn.ActivePlayerID != b.localID && next.Turn.ActiveRoll != nil {
		b.replay.ObserveRoll(next.Turn.ActivePlayerID, next.Turn.ActiveRoll)
	}

	// Any authoritative snapshot heals staleness and recovery alike.
	b.watchdog.ResyncSucceeded()
	if b.recovering {
		b.recovering = false
		b.recoveryAttempts = 0
		b.timers.Cancel(timerRecoveryRetry)
		log.Info().Str("session_id", b.sessionID).Msg("session recovered")
	}

	log.Debug().
		Int("participants", len(next.Participants)).
		Int("round", next.Round).
		Bool("complete", next.Complete).
		Msg("snapshot applied")
}

// handleError reacts to a server rejection per its code's disposition.
func (b *Binder) handleError(p wire.ErrorPayload) {
	switch wire.DispositionFor(p.Code) {
	case wire.DispositionResync:
		log.Info().Str("code", string(p.Code)).Msg("rejection triggers resync")
		b.machine.ClearPending()
		if p.Code == wire.CodeTurnUnavailable {
			// The server cannot produce turn state at all; a fresh request
			// would bounce off the same wall.
			b.watchdog.ResyncFailed()
			return
		}
		b.watchdog.RequestResync(string(p.Code))

	case wire.DispositionPrompt:
		b.machine.ClearPending()
		kind := models.NoticeActionRequired
		if p.Code == wire.CodeActionInvalidScore {
			kind = models.NoticeScoreRejected
		}
		text := p.Message
		if text == "" {
			text = "that action was rejected"
		}
		b.hooks.Presenter.Notify(models.Notice{Kind: kind, Text: text})

	default:
		log.Warn().Str("code", string(p.Code)).Str("message", p.Message).Msg("unknown rejection code")
	}
}

// handleExpired starts bounded recovery: an immediate rejoin, one delayed
// retry, then a user choice between the lobby and local-only play.
func (b *Binder) handleExpired(p wire.SessionExpiredPayload) {
	log.Warn().
		Str("session_id", p.SessionID).
		Str("reason", p.Reason).
		Msg("session expired")

	if b.recovering {
		return
	}
	b.recovering = true
	b.recoveryAttempts = 0
	b.attemptRejoin()
}

// attemptRejoin sends one rejoin and arms the retry timer; a snapshot
// arriving cancels it through applySnapshot.
func (b *Binder) attemptRejoin() {
	b.recoveryAttempts++
	log.Info().
		Int("attempt", b.recoveryAttempts).
		Str("session_id", b.sessionID).
		Msg("rejoin attempt")

	frame, err := wire.Marshal(wire.TypeJoinSession, b.sessionID, wire.JoinSessionPayload{
		SessionID: b.sessionID,
		PlayerID:  b.localID,
		Rejoin:    true,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal rejoin")
		b.recoveryExhausted()
		return
	}
	if err := b.sendFrame(frame); err != nil {
		log.Warn().Err(err).Msg("rejoin send failed")
	}

	b.timers.Schedule(timerRecoveryRetry, b.cfg.RecoveryRetryDelay, func() {
		if !b.recovering {
			return
		}
		if b.recoveryAttempts >= 2 {
			b.recoveryExhausted()
			return
		}
		b.attemptRejoin()
	})
}

// recoveryExhausted hands the decision to the user: back to the lobby, or
// keep playing locally without the server.
func (b *Binder) recoveryExhausted() {
	b.recovering = false
	b.hooks.Presenter.Notify(models.Notice{
		Kind: models.NoticeSessionLost,
		Text: "connection to the session could not be recovered",
	})
	if b.hooks.SessionLost == nil {
		b.post(b.continueSolo)
		return
	}
	b.hooks.SessionLost(
		func() { b.post(b.leaveForLobby) },
		func() { b.post(b.continueSolo) },
	)
}

// leaveForLobby tears the binding down entirely.
func (b *Binder) leaveForLobby() {
	b.disposeBinding()
	if b.hooks.LeftSession != nil {
		b.hooks.LeftSession()
	}
	log.Info().Msg("left session for lobby")
}
