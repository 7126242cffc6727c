package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dicehall/dicehall/go/internal/models"
)

func TestScoreSelectionRule(t *testing.T) {
	dice := models.DiceTable{
		"d1": {ID: "d1", Faces: 6, Value: 2},
		"d2": {ID: "d2", Faces: 20, Value: 1},
		"d3": {ID: "d3", Faces: 6, Value: 6},
	}

	tests := []struct {
		name   string
		dieIDs []string
		want   int
	}{
		{name: "low roll on a big die pays best", dieIDs: []string{"d2"}, want: 19},
		{name: "max roll scores zero", dieIDs: []string{"d3"}, want: 0},
		{name: "selection sums per die", dieIDs: []string{"d1", "d2"}, want: 23},
		{name: "unknown die is ignored", dieIDs: []string{"d1", "nope"}, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, scoreSelection(dice, tt.dieIDs))
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DICEHALL_SERVER_URL", "wss://play.example.com")
	t.Setenv("DICEHALL_PLAYER_ID", "p1")
	t.Setenv("DICEHALL_SESSION_ID", "s1")
	t.Setenv("DICEHALL_RECONNECT_BASE_DELAY_MS", "250")
	t.Setenv("DICEHALL_RESYNC_COOLDOWN_MS", "4000")

	config, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, "wss://play.example.com", config.Server.BaseURL)
	require.Equal(t, 250*time.Millisecond, config.Session.Conn.BaseDelay)
	require.Equal(t, 4*time.Second, config.Session.Watchdog.Cooldown)
	require.NotEmpty(t, config.Dice, "default die set fills in")
}

func TestLoadConfigRejectsMalformedNumericEnv(t *testing.T) {
	t.Setenv("DICEHALL_SERVER_URL", "wss://play.example.com")
	t.Setenv("DICEHALL_PLAYER_ID", "p1")
	t.Setenv("DICEHALL_SESSION_ID", "s1")
	t.Setenv("DICEHALL_RECONNECT_BASE_DELAY_MS", "not-a-number")

	config, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, config.Session.Conn.BaseDelay,
		"malformed value falls back to the default")
}
