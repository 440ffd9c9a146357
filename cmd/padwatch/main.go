package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/padwatch/padwatch/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "padwatch",
	Short: "DualSense idle monitor",
	Long: `padwatch watches DualSense controllers connected over Bluetooth and
disconnects them after a period without input, unless they are charging.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context(), runOptions{})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("padwatch %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path (default ~/.config/padwatch/config.yaml)")
	rootCmd.PersistentFlags().String("socket", "", "Status socket path (default from config)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("socket", rootCmd.PersistentFlags().Lookup("socket"))
	viper.SetEnvPrefix("PADWATCH")
	viper.AutomaticEnv()
}

// configPath resolves --config, then PADWATCH_CONFIG, then the XDG default.
func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// socketPath resolves --socket, then PADWATCH_SOCKET, then the config file.
func socketPath() (string, error) {
	if p := viper.GetString("socket"); p != "" {
		return p, nil
	}
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.SocketPath(), nil
}

func resolveSocket(cfg *config.Config) string {
	if p := viper.GetString("socket"); p != "" {
		return p
	}
	return cfg.SocketPath()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
