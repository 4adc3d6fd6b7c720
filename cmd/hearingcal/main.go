package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"hearingcal/internal/booking"
	"hearingcal/internal/calendar"
	"hearingcal/internal/clock"
	"hearingcal/internal/colors"
	"hearingcal/internal/config"
	"hearingcal/internal/ics"
	"hearingcal/internal/jobs"
	appLog "hearingcal/internal/log"
	"hearingcal/internal/schedule"
	"hearingcal/internal/store"
	"hearingcal/internal/travel"
	"hearingcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("hearingcal starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database,
		"business_hours", conf.BusinessHours.Start+"-"+conf.BusinessHours.End,
		"travel_routes", len(conf.Travel.Matrix),
		"feeds", len(conf.Feeds),
		"refresh", conf.RefreshCron,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf); err != nil {
		appLog.Error("hearingcal stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("hearingcal exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		return err
	}
	hours, err := schedule.ParseBusinessHours(conf.BusinessHours.Start, conf.BusinessHours.End)
	if err != nil {
		return err
	}
	clk := clock.Real()

	appointments, colorStore, closeStore, err := openStores(conf.Database, loc)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, travelCache, err := travel.FromConfig(conf, clk)
	if err != nil {
		return err
	}
	engine := schedule.NewEngine(schedule.EngineConfig{
		Provider:        provider,
		Hours:           hours,
		ProviderTimeout: conf.TravelTimeout(),
		Clock:           clk,
	})

	feedList := make([]ics.Feed, 0, len(conf.Feeds))
	for _, f := range conf.Feeds {
		feedList = append(feedList, ics.Feed{Owner: f.Owner, ID: f.ID, Name: f.Name, URL: f.URL})
	}
	fetcher := ics.NewFetcher(conf.CacheDir, nil)
	feeds := ics.NewFeedSource(fetcher, feedList, loc, clk)

	svc := booking.NewService(appointments, engine, feeds)
	srv := web.NewServer(conf, web.Deps{
		Booking:  svc,
		Colors:   colors.NewRegistry(colorStore),
		Sources:  []calendar.Source{appointments, calendar.Optional(feeds)},
		Location: loc,
		Clock:    clk,
	})

	sched, err := jobs.New(conf.RefreshCron, loc,
		jobs.PurgeTravelCache(travelCache),
		jobs.PrefetchFeeds(fetcher, feeds),
	)
	if err != nil {
		return err
	}
	go func() {
		if err := sched.RunOnce(ctx); err != nil {
			appLog.Warn("initial maintenance run incomplete", "err", err)
		}
	}()
	sched.Start(ctx)
	defer sched.Stop()

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type appointmentStore interface {
	store.Appointments
	calendar.Source
}

// openStores returns the SQLite store when path is set and in-memory
// stores otherwise.
func openStores(path string, loc *time.Location) (appointmentStore, colors.Store, func(), error) {
	if path == "" {
		appLog.Warn("no database configured; appointments are kept in memory only")
		return store.NewMemory(loc), colors.NewMemoryStore(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, nil, err
	}
	db, err := store.OpenSQLite(path, loc)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := db.Close(); err != nil {
			appLog.Error("closing database failed", err, "path", path)
		}
	}
	return db, db, closeFn, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	pflag.StringVarP(&cfg.configPath, "config", "c", "/etc/hearingcal/config.yaml", "Path to config file")
	pflag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pflag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	pflag.Parse()

	return cfg
}
