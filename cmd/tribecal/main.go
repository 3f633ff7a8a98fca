package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"tribecal/internal/backend"
	"tribecal/internal/config"
	"tribecal/internal/daybucket"
	"tribecal/internal/fetchwindow"
	appLog "tribecal/internal/log"
	"tribecal/internal/model"
	"tribecal/internal/notification"
	"tribecal/internal/refresh"
	"tribecal/internal/rsvp"
	"tribecal/internal/timewindow"
	"tribecal/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

// app is everything main wires together.
type app struct {
	conf      *config.Config
	loc       *time.Location
	client    *backend.Client
	bus       *refresh.Bus
	home      *fetchwindow.Manager
	browse    *fetchwindow.Manager
	formatter *timewindow.Formatter
	viewer    model.Identity
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
	if lvl, ok := appLog.ParseLevel(conf.LogLevel); ok {
		appLog.SetLevel(lvl)
	}
	appLog.Info("tribecal starting", "version", version)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	a, err := newApp(conf)
	if err != nil {
		appLog.Error("failed to initialize", err)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"backend", conf.Backend.BaseURL,
		"timezone", a.loc.String(),
		"locale", a.formatter.Locale(),
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"home_months", conf.Windows.HomeMonths,
		"browse_months", conf.Windows.BrowseMonths,
		"viewer", conf.Viewer.UserID,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		if err := a.runOnce(ctx, os.Stdout); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	if err := a.serve(ctx); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
	appLog.Info("tribecal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/tribecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch the home window once, print a summary and exit")

	flag.Parse()

	return cfg
}

func newApp(conf *config.Config) (*app, error) {
	loc := web.ResolveLocation(conf.Timezone)

	client, err := backend.NewClient(backend.Options{
		BaseURL:       conf.Backend.BaseURL,
		Token:         conf.Backend.Token,
		Timeout:       time.Duration(conf.Backend.TimeoutSeconds) * time.Second,
		RatePerSecond: conf.Backend.RatePerSecond,
		Burst:         conf.Backend.Burst,
		CacheDir:      conf.Backend.CacheDir,
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(conf.Backend.TimeoutSeconds) * time.Second
	a := &app{
		conf:   conf,
		loc:    loc,
		client: client,
		bus:    refresh.NewBus(),
		home: fetchwindow.NewManager(client, fetchwindow.Options{
			View:         "home",
			MonthsBefore: conf.Windows.HomeMonths,
			MonthsAfter:  conf.Windows.HomeMonths,
			Timeout:      timeout,
		}),
		browse: fetchwindow.NewManager(client, fetchwindow.Options{
			View:         "browse",
			MonthsBefore: conf.Windows.BrowseMonths,
			MonthsAfter:  conf.Windows.BrowseMonths,
			Timeout:      timeout,
		}),
		formatter: timewindow.NewFormatter(conf.Locale, loc),
		viewer: model.Identity{
			UserID:      model.ID(conf.Viewer.UserID),
			DisplayName: conf.Viewer.DisplayName,
			Image:       conf.Viewer.Image,
		},
	}
	a.bus.Subscribe(a.home.OnInvalidate)
	a.bus.Subscribe(a.browse.OnInvalidate)
	return a, nil
}

func (a *app) today() time.Time {
	return daybucket.DateOf(time.Now(), a.loc).In(a.loc)
}

// runOnce loads the home window and prints one line per upcoming event.
func (a *app) runOnce(ctx context.Context, out io.Writer) error {
	snap, err := a.home.Load(ctx, a.today())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s .. %s: %d events\n",
		a.formatter.Date(snap.Window.From), a.formatter.Date(snap.Window.To), len(snap.Events))
	for _, ev := range snap.Events {
		d := a.formatter.Display(ev.Start, ev.Duration)
		fmt.Fprintf(out, "%s %s-%s  %s\n", d.StartDate, d.StartTime, d.EndTime, ev.Subject)
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	srv := web.NewServer(a.conf, web.Deps{
		Backend:       a.client,
		Home:          a.home,
		Browse:        a.browse,
		RSVP:          rsvp.NewHandler(a.client, a.bus, a.conf.AvatarLimit),
		Notifications: notification.NewBuilder(a.client, a.formatter, a.conf.AvatarLimit),
		Formatter:     a.formatter,
		Viewer:        a.viewer,
	})

	// Periodic refresh: every tick bumps the data version, and each view
	// that has loaded something reloads its current pivot once.
	sched := cron.New(cron.WithLocation(a.loc))
	if _, err := sched.AddFunc(a.conf.RefreshCron, func() {
		v := a.bus.Bump(ctx)
		appLog.Debug("scheduled refresh", "version", v)
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", a.conf.RefreshCron, err)
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	// Warm the home view so the first request is served from memory.
	go func() {
		if _, err := a.home.Load(ctx, a.today()); err != nil && !errors.Is(err, fetchwindow.ErrSuperseded) {
			appLog.Warn("initial load failed", "error", err.Error())
		}
	}()

	httpSrv := &http.Server{
		Addr:              a.conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+a.conf.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
