package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"www.github.com/Wanderer0074348/VirtualTutor/src/dispatch"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

func newAskCmd(env *cliEnv) *cobra.Command {
	var (
		imagePath string
		modeFlag  string
		outPath   string
		preferred string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Send one question through the fallback chain",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := models.ParseMode(modeFlag)
			if !ok {
				return fmt.Errorf("unknown mode %q", modeFlag)
			}

			prompt := &models.Prompt{Text: strings.Join(args, " ")}
			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return err
				}
				prompt.Image = &models.Image{Data: data, MIMEType: dispatch.SniffImage(data)}
			}
			if mode == models.ModeImage && outPath == "" {
				return errors.New("--out is required for image mode")
			}

			a, err := env.build()
			if err != nil {
				return err
			}
			defer a.Close()

			chain, err := a.Chains.Resolve(preferred, nil)
			if err != nil {
				return err
			}

			sess := a.Sessions.Create()
			res, err := a.Dispatcher.Dispatch(cmd.Context(), sess, chain, prompt, mode)
			if err != nil {
				return err
			}
			if !res.OK() {
				return errors.New(dispatch.UserMessage(res))
			}

			return writeCompletion(cmd, res.Completion, outPath)
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "attach a PNG, JPEG, WebP or HEIC image")
	cmd.Flags().StringVarP(&modeFlag, "mode", "m", string(models.ModeText), "text or image")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the answer to this file")
	cmd.Flags().StringVar(&preferred, "target", "", "try this target first")
	return cmd
}

func writeCompletion(cmd *cobra.Command, c *models.Completion, outPath string) error {
	out := cmd.OutOrStdout()
	if c.Mode == models.ModeImage {
		if err := os.WriteFile(outPath, c.Image, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%s, %d bytes) from %s\n", outPath, c.MIMEType, len(c.Image), c.Target)
		if c.Text != "" {
			fmt.Fprintln(out, c.Text)
		}
		return nil
	}

	if outPath != "" {
		return os.WriteFile(outPath, []byte(c.Text), 0o644)
	}
	fmt.Fprintln(out, c.Text)
	fmt.Fprintf(cmd.ErrOrStderr(), "-- answered by %s\n", c.Target)
	return nil
}

