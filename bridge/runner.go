package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
)

// Options are the bridge's command line options.
type Options struct {
	Config  string `short:"c" long:"config" description:"path to the bridge config file" required:"true"`
	Addr    string `short:"a" long:"addr" description:"listen address, overrides the config"`
	Verbose bool   `short:"v" long:"verbose" description:"enable debug logging"`
}

// Run parses args, loads the config and serves until interrupted.
func Run(args []string) error {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if options.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	config, err := LoadConfig(options.Config)
	if err != nil {
		return err
	}
	service, err := New(config, WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := service.HTTP(ctx, options.Addr)
	go func() {
		<-ctx.Done()
		service.Shutdown()
		_ = srv.Close()
	}()

	logger.Info("widget bridge listening", "addr", srv.Addr, "widgets", len(config.Widgets))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
