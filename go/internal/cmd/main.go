package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dicehall/dicehall/go/internal/models"
	"github.com/dicehall/dicehall/go/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(config.LogLevel)

	dice := make(models.DiceTable, len(config.Dice))
	for id, faces := range config.Dice {
		dice[id] = &models.DieDefinition{ID: id, Faces: faces, InPlay: true}
	}

	presenter := newLogPresenter(dice)
	hooks := session.Hooks{
		Presenter: presenter,
		Score:     func(dieIDs []string) int { return scoreSelection(dice, dieIDs) },
		FetchURL: func(_ context.Context, sessionID string) (string, error) {
			token := os.Getenv("DICEHALL_TOKEN")
			if token == "" {
				return "", fmt.Errorf("DICEHALL_TOKEN is not set")
			}
			return fmt.Sprintf("%s/session/%s/ws?token=%s", config.Server.BaseURL, sessionID, token), nil
		},
		SessionLost: func(toLobby, continueSolo func()) {
			// Headless client: no lobby to return to.
			continueSolo()
		},
	}

	binder := session.NewBinder(config.Session, config.Player.ID, dice,
		clockwork.NewRealClock(), nil, hooks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	binder.Bind(config.SessionID)

	log.Info().
		Str("session_id", config.SessionID).
		Str("player_id", config.Player.ID).
		Msg("dicehall client starting")
	binder.Run(ctx)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// scoreSelection is the demo scoring rule: each selected die scores its
// face count minus the rolled value, so low rolls on big dice pay best.
func scoreSelection(dice models.DiceTable, dieIDs []string) int {
	total := 0
	for _, id := range dieIDs {
		if die, ok := dice[id]; ok {
			total += die.Faces - die.Value
		}
	}
	return total
}
