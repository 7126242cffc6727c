// Package spectate mirrors other participants' in-flight actions into the
// local presentation. Previews carry no authority: nothing here feeds the
// turn machine or the local dice.
package spectate

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/timerset"
	"github.com/dicehall/dicehall/go/internal/wire"
)

// Presenter is what the replay engine needs from the rendering collaborator.
type Presenter interface {
	// ShowRemoteRoll replays a remote participant's roll as a preview.
	ShowRemoteRoll(playerID string, roll models.RollSnapshot)
	// PreviewSelection mirrors a remote selection.
	PreviewSelection(playerID string, dieIDs []string)
	// CommitScore finishes the staged score effect. It reports whether it
	// ran; false means the presentation already completed it inline and the
	// duplicate effect was skipped.
	CommitScore(playerID string, dieIDs []string, points int) bool
	// ClearPreview removes every preview artifact for a participant.
	ClearPreview(playerID string)
}

// Config tunes preview pacing.
type Config struct {
	CommitDelay     time.Duration `yaml:"commit_delay"`
	FastCommitDelay time.Duration `yaml:"fast_commit_delay"`
	// BotLinger keeps a finished bot/demo turn visible long enough to read.
	BotLinger time.Duration `yaml:"bot_linger"`
}

// DefaultConfig returns the default preview pacing.
func DefaultConfig() Config {
	return Config{
		CommitDelay:     600 * time.Millisecond,
		FastCommitDelay: 200 * time.Millisecond,
		BotLinger:       1500 * time.Millisecond,
	}
}

type preview struct {
	roll        *models.RollSnapshot
	renderedKey string
	scoreIDs    []string
	scorePoints int
}

// Engine holds per-participant preview state.
type Engine struct {
	cfg       Config
	clock     clockwork.Clock
	timers    *timerset.Set
	presenter Presenter
	localID   string

	// fastDemo and isBot consult the bound session.
	fastDemo func() bool
	isBot    func(playerID string) bool

	previews map[string]*preview
}

// New creates a replay engine.
func New(cfg Config, clock clockwork.Clock, timers *timerset.Set, presenter Presenter,
	localID string, fastDemo func() bool, isBot func(playerID string) bool) *Engine {
	return &Engine{
		cfg:       cfg,
		clock:     clock,
		timers:    timers,
		presenter: presenter,
		localID:   localID,
		fastDemo:  fastDemo,
		isBot:     isBot,
		previews:  make(map[string]*preview),
	}
}

// rollKey derives the rendered-roll key: the server roll id when present,
// else roll index plus a hash of the die tuples.
func rollKey(roll *models.RollSnapshot) string {
	if roll.ServerID != "" {
		return roll.ServerID
	}
	h := fnv.New64a()
	for _, d := range roll.Dice {
		fmt.Fprintf(h, "%s:%d:%d;", d.DieID, d.Faces, d.Value)
	}
	return fmt.Sprintf("%d:%016x", roll.Index, h.Sum64())
}

// ObserveRoll mirrors a remote roll, skipping replays of an unchanged roll.
func (e *Engine) ObserveRoll(playerID string, roll *models.RollSnapshot) {
	if playerID == e.localID || roll == nil {
		return
	}
	key := rollKey(roll)
	p := e.preview(playerID)
	if p.renderedKey == key {
		return
	}
	p.roll = roll
	p.renderedKey = key
	e.presenter.ShowRemoteRoll(playerID, *roll)
	log.Debug().Str("player_id", playerID).Str("roll_key", key).Msg("remote roll previewed")
}

// ObserveSelect forwards a remote selection preview as-is.
func (e *Engine) ObserveSelect(playerID string, dieIDs []string) {
	if playerID == e.localID {
		return
	}
	e.preview(playerID)
	e.presenter.PreviewSelection(playerID, dieIDs)
}

// ObserveScore stages a deferred commit of a remote score so the move stays
// legible before the effect completes. Empty selections are ignored.
func (e *Engine) ObserveScore(playerID string, score wire.ScoreAction) {
	if playerID == e.localID || len(score.DieIDs) == 0 {
		return
	}
	p := e.preview(playerID)
	p.scoreIDs = append([]string(nil), score.DieIDs...)
	p.scorePoints = score.Points

	delay := e.cfg.CommitDelay
	if e.fastDemo() {
		delay = e.cfg.FastCommitDelay
	}
	ids := p.scoreIDs
	points := p.scorePoints
	e.timers.Schedule(commitTimer(playerID), delay, func() {
		if !e.presenter.CommitScore(playerID, ids, points) {
			log.Debug().Str("player_id", playerID).Msg("score already completed inline, skipped")
		}
	})
}

// TurnEnded handles any terminal transition for a remote turn (end,
// timeout, auto-advance): linger-then-clear, with a longer linger for bot
// and demo turns so their moves remain legible.
func (e *Engine) TurnEnded(playerID string) {
	if playerID == e.localID {
		return
	}
	if _, tracked := e.previews[playerID]; !tracked {
		return
	}

	linger := time.Duration(0)
	if e.isBot(playerID) || e.fastDemo() {
		linger = e.cfg.BotLinger
	}
	if linger == 0 {
		e.clear(playerID)
		return
	}
	e.timers.Schedule(clearTimer(playerID), linger, func() {
		e.clear(playerID)
	})
}

// Reset drops every preview and pending timer. Used on rebind and on
// falling back to local-only play.
func (e *Engine) Reset() {
	for playerID := range e.previews {
		e.timers.Cancel(commitTimer(playerID))
		e.timers.Cancel(clearTimer(playerID))
		e.presenter.ClearPreview(playerID)
	}
	e.previews = make(map[string]*preview)
}

func (e *Engine) preview(playerID string) *preview {
	p, ok := e.previews[playerID]
	if !ok {
		p = &preview{}
		e.previews[playerID] = p
	}
	return p
}

func (e *Engine) clear(playerID string) {
	e.timers.Cancel(commitTimer(playerID))
	delete(e.previews, playerID)
	e.presenter.ClearPreview(playerID)
}

func commitTimer(playerID string) string { return "spectate.commit." + playerID }
func clearTimer(playerID string) string  { return "spectate.clear." + playerID }
