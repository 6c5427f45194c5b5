package main

import (
	"bufio"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lucasew/easysave/internal/backend"
	"github.com/lucasew/easysave/internal/sample"
	"github.com/lucasew/easysave/internal/savedevice"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Interactive save and load demo (z saves, x loads, d picks a device, s shows status)",
	RunE:  runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().Duration("demo.write_delay", sample.DefaultWriteDelay, "simulated serialization time of each save")
	demoCmd.Flags().Duration("demo.refresh", 0, "status refresh interval (default is the device tick interval)")
	_ = viper.BindPFlag("demo.write_delay", demoCmd.Flags().Lookup("demo.write_delay"))
	_ = viper.BindPFlag("demo.refresh", demoCmd.Flags().Lookup("demo.refresh"))
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := newLocalizer(cfg)
	if err != nil {
		return err
	}

	// Device events only fire from Run, which starts after demo is set.
	var demo *sample.Demo
	device, err := backend.NewDevice(cfg, logger, func(e *savedevice.DeviceEvent) {
		demo.ReportDeviceEvent(e)
	})
	if err != nil {
		return err
	}
	defer func() { _ = device.Close() }()

	demo, err = sample.New(device, &sample.Sequence{}, os.Stdout, sample.Options{
		WriteDelay: viper.GetDuration("demo.write_delay"),
		Localizer:  loc,
		Language:   defaultLanguage(loc),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	commands := make(chan string)
	go func() {
		defer close(commands)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case commands <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	refresh := viper.GetDuration("demo.refresh")
	if refresh <= 0 {
		refresh = cfg.Device.TickInterval
	}

	g, gctx := errgroup.WithContext(ctx)
	if shared, ok := device.(*savedevice.SharedDevice); ok {
		g.Go(func() error { return shared.Run(gctx) })
	}
	g.Go(func() error {
		defer stop()
		return demo.Run(gctx, commands, refresh)
	})
	return g.Wait()
}
