package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"www.github.com/Wanderer0074348/VirtualTutor/src/app"
	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "tutorctl",
		Short:         "Ask the virtual tutor from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TUTOR_CONFIG"), "path to config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log fallback attempts to stderr")

	env := &cliEnv{configPath: &configPath, verbose: &verbose}
	root.AddCommand(
		newAskCmd(env),
		newSpeakCmd(env),
		newConfigCmd(env),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliEnv carries the persistent flags into subcommands.
type cliEnv struct {
	configPath *string
	verbose    *bool
}

func (e *cliEnv) load() (*config.Config, error) {
	return config.LoadConfig(*e.configPath)
}

func (e *cliEnv) build() (*app.App, error) {
	cfg, err := e.load()
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if *e.verbose {
		cfg.Logging.Format = "console"
		if logger, err = config.NewLogger(cfg.Logging); err != nil {
			return nil, err
		}
	}
	return app.Build(cfg, logger, app.Options{})
}
