package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string
var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "webcheckup",
	Short: "Website security checkups: port scan, lighthouse, cookies, technologies, network",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init config
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath("$HOME")
			viper.SetConfigName(".webcheckup")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("WEBCHECKUP")
		viper.AutomaticEnv()

		_ = viper.ReadInConfig()

		// init logger
		l, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.webcheckup.yaml)")

	// add subcommands
	rootCmd.AddCommand(checkupCmd)
	rootCmd.AddCommand(versionCmd)
}
