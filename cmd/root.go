package cmd

import (
	"errors"
	"log"
	"strings"

	"github.com/spigell/recruiter-loop/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "recruiter-loop"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "recruiter-loop runs recruiting tasks through a generate/evaluate/learn loop with human approval",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is recruiter-loop.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "address of a running recruiter-loop server")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("server-url", rootCmd.PersistentFlags().Lookup("server"))

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())
}

func initConfig() {
	// Only commands that build the stack locally need a config file.
	if serveCmd.CalledAs() == "" && runCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
