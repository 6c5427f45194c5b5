package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/lucasew/easysave/internal/backend"
	"github.com/lucasew/easysave/internal/config"
	"github.com/lucasew/easysave/internal/i18n"
	"github.com/lucasew/easysave/internal/savedevice"
)

var (
	cfgFile  string
	logLevel string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "easysave",
	Short: "Asynchronous save devices for games and tools",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			level = slog.LevelInfo
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := rootCmd.Execute(); err != nil {
		logger.Error("execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./easysave.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("easysave")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("EASYSAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicitly bind environment variables
	envVars := []string{
		"server.addr",
		"auth.jwt_secret",
		"auth.token_ttl",
		"device.mode",
		"device.title",
		"device.tick_interval",
		"device.on_selector_canceled",
		"device.on_device_disconnected",
		"storage.name",
		"storage.type",
		"storage.path",
		"storage.create",
		"storage.dsn",
		"storage.url",
		"storage.token",
		"locale.languages",
	}
	for _, key := range envVars {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err == nil {
		logger.Info("using config file", "file", viper.ConfigFileUsed())
	}
}

// loadConfig layers the config file, environment and flags over the
// defaults and validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLocalizer(cfg *config.Config) (*i18n.Localizer, error) {
	tags, err := i18n.Parse(cfg.Locale.Languages)
	if err != nil {
		return nil, err
	}
	return i18n.New(tags...)
}

// defaultLanguage is the configured default, or the one named by LANG.
func defaultLanguage(loc *i18n.Localizer) language.Tag {
	if lang := os.Getenv("LANG"); lang != "" {
		name, _, _ := strings.Cut(lang, ".")
		return loc.Match(strings.ReplaceAll(name, "_", "-"))
	}
	return loc.Default()
}

// openDevice builds the configured device. A shared device gets one
// selection round so one-shot commands can use it right away.
func openDevice(ctx context.Context, cfg *config.Config) (savedevice.Device, error) {
	d, err := backend.NewDevice(cfg, logger)
	if err != nil {
		return nil, err
	}
	if shared, ok := d.(*savedevice.SharedDevice); ok {
		shared.Tick(ctx)
	}
	if !d.IsReady() {
		_ = d.Close()
		return nil, savedevice.ErrDeviceNotReady
	}
	return d, nil
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
