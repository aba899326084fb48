package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/newthinker/p2parb/internal/app"
	"github.com/newthinker/p2parb/internal/config"
	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/logger"
	"go.uber.org/zap"
)

// withApp loads the configuration, builds the application and flushes
// metrics and logs once fn returns.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.NewWithFile(debug, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("initialization failed", zap.Error(err))
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(ctx, a)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

// splitList parses a comma separated currency list.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseMethod(s string) (core.ConversionMethod, error) {
	if s == "" {
		return "", nil
	}
	return core.ParseConversionMethod(s)
}
