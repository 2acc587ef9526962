package cmd

import (
	"log"

	"github.com/spigell/recruiter-loop/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Reject pending tasks whose approval window has passed",
	Long:  "Meant to be run periodically from cron or a scheduler against a running server.",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}

		expired, err := newAPIClient(viper.GetString("server-url")).Expire(cmd.Context())
		if err != nil {
			logger.Fatal("expiring tasks", zap.Error(err))
		}
		logger.Info("expired pending tasks", zap.Int("count", len(expired)), zap.Strings("task_ids", expired))
	},
}

func init() {
	rootCmd.AddCommand(expireCmd)
}
