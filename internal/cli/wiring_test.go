package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-duel-service/internal/config"
	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/testutil"
)

func TestBuildBackendsMatchesOnEveryStore(t *testing.T) {
	mr := miniredis.RunT(t)

	cases := map[string]func(*config.Config){
		"memory": func(*config.Config) {},
		"sqlite": func(cfg *config.Config) {
			cfg.Database.Driver = "sqlite3"
			cfg.Database.DSN = ":memory:"
		},
		"redis": func(cfg *config.Config) {
			cfg.Redis.Addr = mr.Addr()
		},
	}
	for name, configure := range cases {
		t.Run(name, func(t *testing.T) {
			var cfg config.Config
			configure(&cfg)
			b, err := buildBackends(context.Background(), cfg, testutil.QuietLogger())
			require.NoError(t, err)
			defer b.Close()

			ctx := context.Background()
			waiting, err := b.service.FindOrCreate(ctx, "nfl", "alice-"+name, 3)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusWaiting, waiting.Status)

			joined, err := b.service.FindOrCreate(ctx, "nfl", "bob-"+name, 3)
			require.NoError(t, err)
			assert.Equal(t, waiting.ID, joined.ID)
			assert.Equal(t, domain.StatusActive, joined.Status)
		})
	}
}

func TestBuildBackendsRejectsUnknownDriver(t *testing.T) {
	var cfg config.Config
	cfg.Database.Driver = "oracle"
	_, err := buildBackends(context.Background(), cfg, testutil.QuietLogger())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var cfg config.Config
	cfg.Log.Level = "debug"
	cfg.Log.Format = "JSON"
	log := newLogger(cfg)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	cfg.Log.Level = "loud"
	assert.Equal(t, logrus.InfoLevel, newLogger(cfg).GetLevel())
}

func TestListenPort(t *testing.T) {
	var cfg config.Config
	assert.Equal(t, "8080", listenPort("", cfg))
	cfg.Server.Port = "9000"
	assert.Equal(t, "9000", listenPort("", cfg))
	assert.Equal(t, "7000", listenPort("7000", cfg))
}
