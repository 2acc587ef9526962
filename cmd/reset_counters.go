package cmd

import (
	"log"
	"time"

	"github.com/spigell/recruiter-loop/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var resetCountersCmd = &cobra.Command{
	Use:   "reset-counters",
	Short: "Reset daily auto-approval counters on a running server",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}

		tenant, _ := cmd.Flags().GetString("tenant")
		day, _ := cmd.Flags().GetString("day")
		if day != "" {
			if _, err := time.Parse(time.DateOnly, day); err != nil {
				logger.Fatal("invalid day", zap.String("day", day), zap.String("hint", "use YYYY-MM-DD"))
			}
		}

		if err := newAPIClient(viper.GetString("server-url")).ResetCounters(cmd.Context(), tenant, day); err != nil {
			logger.Fatal("resetting counters", zap.Error(err))
		}
		logger.Info("auto-approval counters reset", zap.String("tenant_id", tenant), zap.String("day", day))
	},
}

func init() {
	rootCmd.AddCommand(resetCountersCmd)

	resetCountersCmd.Flags().StringP("tenant", "t", "", "reset only this tenant (default is all tenants)")
	resetCountersCmd.Flags().String("day", "", "day to reset as YYYY-MM-DD (default is today)")
}
