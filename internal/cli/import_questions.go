package cli

import (
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"trivia-duel-service/internal/config"
	"trivia-duel-service/internal/infra/memory"
	pgloader "trivia-duel-service/internal/infra/postgres"
)

// NewImportQuestionsCmd copies a YAML question file into the Postgres catalog.
func NewImportQuestionsCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-questions",
		Short: "Load a YAML question file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			if err := requirePostgres(cfg); err != nil {
				return err
			}
			if file == "" {
				file = cfg.Catalog.Path
			}
			source, err := memory.LoadQuestionFile(file)
			if err != nil {
				return err
			}

			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			loader := pgloader.NewQuestionLoader(pool)

			for _, sport := range source.Sports() {
				questions, err := source.LoadQuestions(cmd.Context(), sport)
				if err != nil {
					return err
				}
				if err := loader.SaveQuestions(cmd.Context(), sport, questions); err != nil {
					return err
				}
				log.WithField("sport", sport).WithField("questions", len(questions)).Info("imported questions")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "question file (defaults to catalog.path)")
	return cmd
}
