package cli

import (
	"github.com/spf13/cobra"

	"trivia-duel-service/internal/config"
)

// NewSweepCmd runs a single expiry sweep and exits. Useful from an external scheduler when the
// server runs several replicas.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark stale unjoined duels as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			b, err := buildBackends(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()

			expired, err := b.service.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			log.WithField("expired", expired).Info("sweep finished")
			return nil
		},
	}
}
