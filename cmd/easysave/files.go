package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultTimeout = time.Minute

var opTimeout time.Duration

var saveCmd = &cobra.Command{
	Use:   "save <container> <file> [source]",
	Short: "Saves a file, reading the payload from source or stdin",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := cmd.InOrStdin()
		if len(args) == 3 && args[2] != "-" {
			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			src = f
		}

		ctx, cancel := withTimeout(opTimeout)
		defer cancel()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDevice(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = d.Close() }()

		op, err := d.SaveAsync(ctx, args[0], args[1], func(w io.Writer) error {
			_, err := io.Copy(w, src)
			return err
		})
		if err != nil {
			return err
		}
		if err := op.Wait(ctx); err != nil {
			return err
		}
		c, _ := op.Result()
		logger.Info("saved", "container", c.Container, "file", c.File, "provider", d.ProviderName(), "duration", c.Duration())
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <container> <file>",
	Short: "Writes a saved file to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(opTimeout)
		defer cancel()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDevice(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = d.Close() }()

		return d.Load(ctx, args[0], args[1], func(r io.Reader) error {
			_, err := io.Copy(cmd.OutOrStdout(), r)
			return err
		})
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <container> <file>",
	Short: "Exits non-zero when the file does not exist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(opTimeout)
		defer cancel()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDevice(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = d.Close() }()

		if !d.FileExists(ctx, args[0], args[1]) {
			return fmt.Errorf("%s/%s does not exist", args[0], args[1])
		}
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [container] [pattern]",
	Short: "Lists containers, or the files of a container",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(opTimeout)
		defer cancel()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDevice(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = d.Close() }()

		var names []string
		switch len(args) {
		case 0:
			names, err = d.GetContainers(ctx)
		case 1:
			names, err = d.GetFiles(ctx, args[0], "")
		default:
			names, err = d.GetFiles(ctx, args[0], args[1])
		}
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <container> <file>",
	Short: "Deletes a saved file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(opTimeout)
		defer cancel()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDevice(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = d.Close() }()

		return d.Delete(ctx, args[0], args[1])
	},
}

func init() {
	for _, c := range []*cobra.Command{saveCmd, loadCmd, existsCmd, lsCmd, rmCmd} {
		c.Flags().DurationVar(&opTimeout, "timeout", defaultTimeout, "operation timeout")
		rootCmd.AddCommand(c)
	}
}
