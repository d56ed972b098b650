package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the service configuration",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the fallback chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Fallback chain:")
			for i, t := range cfg.Targets {
				fmt.Fprintf(out, "  %d. %-16s %-8s %s\n", i+1, t.Name, t.Kind, t.Model)
			}
			fmt.Fprintf(out, "Cache:       %s\n", cfg.Cache.Backend)
			fmt.Fprintf(out, "Transcripts: %s\n", cfg.Transcript.Backend)
			fmt.Fprintf(out, "Throttle:    %s cooldown, %d calls per session\n", cfg.Throttle.Cooldown, cfg.Throttle.MaxCalls)
			fmt.Fprintf(out, "Timeouts:    text %s, image %s\n", cfg.Timeouts.Text, cfg.Timeouts.Image)
			for kind, action := range cfg.Fallback.Policy {
				fmt.Fprintf(out, "Policy:      %-18s -> %s\n", kind, action)
			}
			fmt.Fprintf(out, "Speech:      %t\n", cfg.Speech.Enabled)
			fmt.Fprintln(out, "OK")
			return nil
		},
	}

	cmd.AddCommand(checkCmd)
	return cmd
}
