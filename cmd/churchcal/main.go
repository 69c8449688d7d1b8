package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"churchcal/internal/auth"
	"churchcal/internal/cache"
	"churchcal/internal/calendar"
	"churchcal/internal/config"
	appLog "churchcal/internal/log"
	"churchcal/internal/maintenance"
	"churchcal/internal/store/sqlstore"
	"churchcal/internal/web"
)

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetOutput(os.Stderr, true)
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("churchcal starting", "version", "0.1.0")

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"db_driver", conf.Database.Driver,
		"cache_ttl_seconds", conf.Cache.TTLSeconds,
		"redis", conf.Cache.RedisURL != "",
		"past_years", conf.Expansion.PastYears,
		"future_years", conf.Expansion.FutureYears,
		"max_ancestor_depth", conf.Hierarchy.MaxAncestorDepth,
		"maintenance_cron", conf.Maintenance.Cron,
		"print_enabled", conf.Print.Enabled,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, loc); err != nil {
		appLog.Error("churchcal failed", err)
		os.Exit(1)
	}
	appLog.Info("churchcal exiting")
}

func run(ctx context.Context, conf *config.Config, loc *time.Location) error {
	st, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          conf.Database.Driver,
		DSN:             conf.Database.DSN,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	authn, err := auth.New(conf.Auth.JWTSecret, conf.Auth.Issuer)
	if err != nil {
		return err
	}

	var views cache.Cache = cache.NewMemory(conf.Cache.TTL())
	if conf.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, conf.Cache.RedisURL, conf.Cache.TTL())
		if err != nil {
			return err
		}
		defer rc.Close()
		views = rc
	}

	svc := calendar.NewService(st, calendar.Config{
		Location:               loc,
		PastYears:              conf.Expansion.PastYears,
		FutureYears:            conf.Expansion.FutureYears,
		MaxOccurrencesPerEvent: conf.Expansion.MaxOccurrencesPerEvent,
		MaxAncestorDepth:       conf.Hierarchy.MaxAncestorDepth,
	})

	sched, err := maintenance.New(st, conf.Maintenance.Cron, conf.Maintenance.ExceptionRetentionDays, loc)
	if err != nil {
		return err
	}
	sched.Start(ctx)

	srv := web.NewServer(web.Options{
		Service: svc,
		Auth:    authn,
		Cache:   views,
		Pinger:  st,
		Print: web.PrintOptions{
			Enabled: conf.Print.Enabled,
			BaseURL: conf.Print.BaseURL,
			Timeout: time.Duration(conf.Print.TimeoutSeconds) * time.Second,
		},
	})
	return srv.Start(ctx, conf.Listen)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/churchcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to an optional .env file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Human readable debug logging")

	flag.Parse()

	return cfg
}
