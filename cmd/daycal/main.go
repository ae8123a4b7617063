package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"daycal/internal/agenda"
	"daycal/internal/calendar"
	"daycal/internal/clock"
	"daycal/internal/config"
	"daycal/internal/ics"
	appLog "daycal/internal/log"
	"daycal/internal/web"
)

const (
	importTimeout   = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}

	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Error("invalid log level", err, "log_level", conf.LogLevel)
		os.Exit(1)
	}
	appLog.SetLevel(level)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("daycal starting",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"log_level", conf.LogLevel,
		"agenda", conf.Agenda.Enabled,
		"ics_count", len(conf.ICS),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := calendar.NewStore(
		calendar.WithLocation(loc),
		calendar.WithClock(clock.NewSystem(loc)),
		calendar.WithSlotTitle(conf.SlotTitle),
	)

	importFeeds(ctx, conf, store)

	if conf.Agenda.Enabled {
		sched, err := agenda.NewScheduler(conf.Agenda.Schedule, loc, store, conf.Agenda.SlotMinutes)
		if err != nil {
			appLog.Error("failed to set up agenda", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	server := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, store).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("server error", err)
		}
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("server shutdown error", err)
	}
	appLog.Info("daycal exiting", "events", store.Len())
}

// importFeeds loads the configured ICS feeds once. Failures are logged and
// never prevent startup.
func importFeeds(ctx context.Context, conf *config.Config, store *calendar.Store) {
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		if c.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}
	if len(sources) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	fetcher := ics.NewFetcher(conf.ICSCacheDir, nil)
	res, errs := ics.ImportSources(ctx, fetcher, store, sources, store.Location())
	for _, err := range errs {
		appLog.Error("ics import error", err)
	}
	appLog.Info("ics import finished",
		"sources", len(sources),
		"imported", res.Imported,
		"conflicts", res.Conflicts,
		"invalid", res.Invalid,
		"skipped_all_day", res.SkippedAllDay,
		"skipped_recurring", res.SkippedRecurring,
	)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./daycal.yaml", "Path to config file (created with defaults if missing)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")

	flag.Parse()

	return cfg
}
