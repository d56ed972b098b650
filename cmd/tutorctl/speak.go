package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newSpeakCmd(env *cliEnv) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Read text aloud into an audio file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.build()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Speaker == nil {
				return errors.New("speech is disabled; set speech.enabled in the config")
			}

			audio, contentType, err := a.Speaker.Speak(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			defer audio.Close()

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, audio)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", outPath, contentType, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "answer.mp3", "audio output file")
	return cmd
}
