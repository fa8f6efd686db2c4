package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/app"
	"trivia-duel-service/internal/config"
	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/infra/memory"
	pgloader "trivia-duel-service/internal/infra/postgres"
	infraredis "trivia-duel-service/internal/infra/redis"
	"trivia-duel-service/internal/infra/sqldb"
	"trivia-duel-service/internal/notify"
	"trivia-duel-service/internal/selector"
)

// newLogger builds the process logger from the log section.
func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if strings.EqualFold(cfg.Log.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// backends holds the adapters chosen from config plus everything that must be closed on exit.
type backends struct {
	service *app.DuelService
	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// buildBackends wires the duel service. The SQL store wins over Redis, Redis over memory. The
// catalog comes from Postgres when configured, else the YAML file, else the built-in sample.
func buildBackends(ctx context.Context, cfg config.Config, log *logrus.Logger) (*backends, error) {
	b := &backends{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, redisClient.Close)
	}

	var store app.DuelStore
	switch {
	case cfg.Database.Driver != "":
		dsn := cfg.Database.DSN
		if dsn == "" && isPostgres(cfg.Database.Driver) {
			dsn = cfg.Postgres.URL
		}
		db, dialect, err := sqldb.Open(cfg.Database.Driver, dsn)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		if err := sqldb.EnsureSchema(db); err != nil {
			b.Close()
			return nil, err
		}
		store = sqldb.NewDuelStore(db, dialect)
		log.WithField("driver", dialect.Name).Info("using SQL duel store")
	case redisClient != nil:
		store = infraredis.NewDuelStore(redisClient)
		log.Info("using redis duel store")
	default:
		store = memory.NewDuelStore()
		log.Warn("using in-memory duel store; duels are lost on restart")
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	switch {
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		loader = pgloader.NewQuestionLoader(pool)
	case cfg.Catalog.Path != "":
		fileLoader, err := memory.LoadQuestionFile(cfg.Catalog.Path)
		if err != nil {
			b.Close()
			return nil, err
		}
		loader = fileLoader
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog app.QuestionCatalog
	var bus app.EventBus
	var notifier app.Notifier
	if redisClient != nil {
		catalog = infraredis.NewQuestionCatalog(redisClient, loader, catalogTTL)
		bus = infraredis.NewEventBus(redisClient, log)
		notifier = infraredis.NewNotifier(redisClient, cfg.Redis.Outbox, infraredis.DefaultOutboxLength)
	} else {
		catalog = memory.NewQuestionCatalog(loader, catalogTTL)
		bus = memory.NewEventBus()
		notifier = notify.NewLogNotifier(log)
	}

	b.service = app.NewDuelService(store, bus, notifier, catalog,
		selector.New(rand.New(rand.NewSource(time.Now().UnixNano())), log),
		app.Options{
			InviteTTL:     config.TTLDuration(cfg.Duel.InviteTTL, app.DefaultInviteTTL),
			ListingWindow: config.TTLDuration(cfg.Duel.ListingWindow, app.DefaultListingWindow),
			CodeAttempts:  cfg.Duel.CodeAttempts,
			Log:           log,
		})
	return b, nil
}

func isPostgres(driver string) bool {
	return driver == "postgres" || driver == "postgresql"
}

func listenPort(flag string, cfg config.Config) string {
	switch {
	case flag != "":
		return flag
	case cfg.Server.Port != "":
		return cfg.Server.Port
	default:
		return "8080"
	}
}

// sampleQuestions is a tiny built-in catalog for local runs without Postgres or a question file.
func sampleQuestions() map[string][]domain.Question {
	nba := []domain.Question{
		{ID: "nba-1", Prompt: "Which franchise has won the most NBA titles?", Options: []string{"Celtics", "Bulls", "Spurs", "Heat"}, Answer: "Celtics", Category: "history", Team: "celtics"},
		{ID: "nba-2", Prompt: "Who holds the career scoring record?", Options: []string{"LeBron James", "Kareem Abdul-Jabbar", "Michael Jordan", "Kobe Bryant"}, Answer: "LeBron James", Category: "records", Team: "lakers"},
		{ID: "nba-3", Prompt: "How many points did Wilt Chamberlain score in his record game?", Options: []string{"81", "100", "73", "92"}, Answer: "100", Category: "records", Team: "warriors"},
		{ID: "nba-4", Prompt: "Which team drafted Kobe Bryant?", Options: []string{"Hornets", "Lakers", "Nets", "Knicks"}, Answer: "Hornets", Category: "players", Team: "hornets"},
		{ID: "nba-5", Prompt: "Who won the 2016 NBA Finals?", Options: []string{"Warriors", "Cavaliers", "Spurs", "Thunder"}, Answer: "Cavaliers", Category: "finals", Team: "cavaliers"},
	}
	nfl := []domain.Question{
		{ID: "nfl-1", Prompt: "Which team won Super Bowl I?", Options: []string{"Packers", "Chiefs", "Jets", "Colts"}, Answer: "Packers", Category: "history", Team: "packers"},
		{ID: "nfl-2", Prompt: "Who has the most career passing touchdowns?", Options: []string{"Tom Brady", "Drew Brees", "Peyton Manning", "Brett Favre"}, Answer: "Tom Brady", Category: "records", Team: "patriots"},
		{ID: "nfl-3", Prompt: "Which team finished the 1972 season undefeated?", Options: []string{"Dolphins", "Steelers", "Cowboys", "Raiders"}, Answer: "Dolphins", Category: "history", Team: "dolphins"},
	}
	for i := range nba {
		nba[i].Sport = "nba"
	}
	for i := range nfl {
		nfl[i].Sport = "nfl"
	}
	return map[string][]domain.Question{"nba": nba, "nfl": nfl}
}

func requirePostgres(cfg config.Config) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	return nil
}
