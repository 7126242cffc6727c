package main

import (
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/conn"
	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/turn"
)

// logPresenter is a headless presentation surface that narrates the session
// to the log. A real frontend implements session.Presenter the same way.
type logPresenter struct {
	dice    models.DiceTable
	preRoll bool
}

func newLogPresenter(dice models.DiceTable) *logPresenter {
	return &logPresenter{dice: dice, preRoll: true}
}

func (p *logPresenter) InPreRoll() bool { return p.preRoll }

func (p *logPresenter) ApplyRoll(values map[string]int) {
	p.preRoll = false
	log.Info().Interface("values", values).Msg("you rolled")
}

func (p *logPresenter) ClearRoll() {
	p.preRoll = true
}

func (p *logPresenter) Notify(n models.Notice) {
	log.Info().Str("kind", string(n.Kind)).Str("subject", n.Subject).Msg(n.Text)
}

func (p *logPresenter) ShowRemoteRoll(playerID string, roll models.RollSnapshot) {
	log.Info().Str("player_id", playerID).Int("dice", len(roll.Dice)).Msg("opponent rolled")
}

func (p *logPresenter) PreviewSelection(playerID string, dieIDs []string) {
	log.Info().Str("player_id", playerID).Strs("dice", dieIDs).Msg("opponent selecting")
}

func (p *logPresenter) CommitScore(playerID string, dieIDs []string, points int) bool {
	log.Info().Str("player_id", playerID).Strs("dice", dieIDs).Int("points", points).Msg("opponent scored")
	return true
}

func (p *logPresenter) ClearPreview(playerID string) {
	log.Debug().Str("player_id", playerID).Msg("preview cleared")
}

func (p *logPresenter) SyncStatusChanged(status turn.SyncStatus) {
	log.Info().Str("status", string(status)).Msg("sync status changed")
}

func (p *logPresenter) ConnectionChanged(state conn.State) {
	log.Info().Str("state", state.String()).Msg("connection state changed")
}
