// Package commands is the nanograph command line.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"nanograph/internal/app"
	"nanograph/internal/config"
)

var (
	modelFlag   string
	logFileFlag string

	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "nanograph",
	Short: "Chat with the Gemini 3 Pro image model from the terminal",
	Long: `nanograph talks to the Gemini 3 Pro image model with an API key.

Examples:
  nanograph chat                                   Start the full-screen chat
  nanograph generate "a red cube on a beach"       Generate once and save the images
  nanograph generate -i ref.png -r 16:9 -s 2K "make it night"`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Fprintf(cmd.OutOrStdout(), "nanograph %s\n", Version)
			return nil
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Image model (default from GEMINI_IMAGE_MODEL)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Append JSON logs to this file")
	rootCmd.Flags().BoolP("version", "v", false, "Show version and exit")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(generateCmd)
}

// loadStack reads .env and the environment and builds the shared stack. Logs
// never go to the terminal: they are discarded unless --log-file is set.
func loadStack() (*app.Stack, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if modelFlag != "" {
		cfg.GeminiModel = modelFlag
	}

	var logOut io.Writer = io.Discard
	closeLog := func() {}
	if logFileFlag != "" {
		f, err := os.OpenFile(logFileFlag, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logOut = f
		closeLog = func() { _ = f.Close() }
	}

	return app.New(cfg, logOut), closeLog, nil
}
