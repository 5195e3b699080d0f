// Command docnexus runs the local documentation browser.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/docnexus/docnexus/internal/app"
	"github.com/docnexus/docnexus/internal/config"
	"github.com/docnexus/docnexus/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("docnexus", flag.ContinueOnError)

	configPath := fs.StringP("config", "c", config.DefaultPath(), "config file path")
	docs := fs.StringP("docs", "d", "", "documents directory (overrides config)")
	addr := fs.StringP("addr", "a", "", "listen address (overrides config)")
	plugins := fs.StringSlice("plugins", nil, "extension search paths (overrides config)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	experimental := fs.Bool("experimental", false, "enable experimental pipeline features")
	version := fs.BoolP("version", "v", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *version {
		fmt.Println("docnexus", server.Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *docs != "" {
		cfg.DocsRoot = *docs
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if len(*plugins) > 0 {
		cfg.PluginPaths = *plugins
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *experimental {
		cfg.Experimental = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
