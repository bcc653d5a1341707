package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/labkit/instrumental/internal/alias"
	"github.com/labkit/instrumental/internal/audit"
	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/infrastructure/config"
	"github.com/labkit/instrumental/internal/infrastructure/database"
	"github.com/labkit/instrumental/internal/infrastructure/influxdb"
	"github.com/labkit/instrumental/internal/infrastructure/logging"
	"github.com/labkit/instrumental/internal/infrastructure/mqtt"
	"github.com/labkit/instrumental/internal/registry"
	"github.com/labkit/instrumental/internal/remote"
	"github.com/labkit/instrumental/internal/resolver"
	"github.com/labkit/instrumental/internal/telemetry"
	"github.com/labkit/instrumental/internal/visa"
	"github.com/labkit/instrumental/migrations"

	_ "github.com/labkit/instrumental/internal/drivers/all"
)

// app holds the subsystems a command needs. Commands build it in stages:
// loadApp for configuration and aliases, then startInstruments for the
// VISA layer, session and resolver.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	db      *database.DB
	aliases alias.Store
	audit   *audit.SQLiteRepository

	// source tags audit entries written by this process.
	source string

	visa     *visa.ResourceManager
	session  *driver.Session
	resolver *resolver.Resolver
	mqtt     *mqtt.Client
	influx   *influxdb.Client

	closers []func() error
}

// loadApp loads configuration, sets up logging and opens the alias
// database with migrations applied.
func loadApp(ctx context.Context, opts *globalOptions) (*app, error) {
	return load(ctx, opts, true)
}

func load(ctx context.Context, opts *globalOptions, migrate bool) (*app, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	a := &app{cfg: cfg, log: logging.New(cfg.Logging, version), source: "cli"}
	a.log.Debug("configuration loaded", "path", opts.configPath)

	if err := a.openDatabase(ctx, migrate); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *app) openDatabase(ctx context.Context, migrate bool) error {
	db, err := database.Open(ctx, database.Config{
		Path:        a.cfg.Database.Path,
		WALMode:     a.cfg.Database.WALMode,
		BusyTimeout: a.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.onClose(func() error {
		a.log.Debug("closing database")
		return db.Close()
	})

	if migrate {
		if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	fromConfig, err := alias.FromConfig(a.cfg.Instruments)
	if err != nil {
		return fmt.Errorf("loading configured aliases: %w", err)
	}
	a.aliases = alias.Chain{fromConfig, alias.NewSQLiteStore(db.DB)}
	a.audit = audit.NewSQLiteRepository(db.DB)
	return nil
}

// startInstruments builds the VISA resource manager, the session and the
// resolver. Session events always go to the audit log. With telemetry set, MQTT and InfluxDB are connected when
// enabled and receive session events.
func (a *app) startInstruments(ctx context.Context, telemetryOn bool, listeners ...driver.Listener) error {
	a.visa = visa.NewResourceManager(visa.Config{
		Timeout:        a.cfg.VISATimeout(),
		ConnectRetries: uint(a.cfg.VISA.ConnectRetries), //nolint:gosec // Validated non-negative
		SerialBaud:     a.cfg.VISA.SerialBaud,
		Addresses:      a.cfg.VISA.Addresses,
	}, visa.WithLogger(a.log.Component("visa")))
	a.onClose(a.visa.Close)

	registry.Default.SetLogger(a.log.Component("registry"))
	registry.Default.SetEnv(registry.Env{Visa: a.visa})

	sessionOpts := []driver.SessionOption{
		driver.WithLogger(a.log.Component("session")),
		driver.WithAliasSaver(a.aliases),
		driver.WithListener(audit.NewListener(a.audit, a.source, a.log.Component("audit"))),
	}
	if telemetryOn {
		l, err := a.connectTelemetry(ctx)
		if err != nil {
			return err
		}
		if l != nil {
			sessionOpts = append(sessionOpts, driver.WithListener(l))
		}
	}
	for _, l := range listeners {
		sessionOpts = append(sessionOpts, driver.WithListener(l))
	}
	a.session = driver.NewSession(sessionOpts...)
	a.onClose(a.session.CloseAll)

	policy, err := resolver.ParsePolicy(a.cfg.Resolver.ReopenPolicy)
	if err != nil {
		return err
	}
	a.resolver = resolver.New(registry.Default, a.session,
		resolver.WithLogger(a.log.Component("resolver")),
		resolver.WithAliases(a.aliases),
		resolver.WithVisa(a.visa),
		resolver.WithBlacklist(a.cfg.Resolver.Blacklist...),
		resolver.WithServers(a.cfg.Servers, a.cfg.Resolver.DefaultServer),
		resolver.WithRemote(remote.NewClient(remote.WithTimeout(a.cfg.RemoteTimeout()))),
		resolver.WithDefaultPolicy(policy),
	)
	return nil
}

// connectTelemetry connects the enabled sinks. It returns nil when none is
// enabled.
func (a *app) connectTelemetry(ctx context.Context) (*telemetry.Listener, error) {
	var opts []telemetry.Option

	if a.cfg.MQTT.Enabled {
		client, err := mqtt.Connect(a.cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(a.log.Component("mqtt"))
		a.mqtt = client
		a.onClose(func() error {
			a.log.Info("disconnecting from MQTT")
			return client.Close()
		})
		a.log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", a.cfg.MQTT.Broker.Host, a.cfg.MQTT.Broker.Port),
			"client_id", a.cfg.MQTT.Broker.ClientID,
		)
		opts = append(opts, telemetry.WithPublisher(client))
	}

	if a.cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, a.cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			a.log.Error("InfluxDB write error", "error", err)
		})
		a.influx = client
		a.onClose(func() error {
			a.log.Info("closing InfluxDB connection")
			return client.Close()
		})
		a.log.Info("InfluxDB connected", "url", a.cfg.InfluxDB.URL, "bucket", a.cfg.InfluxDB.Bucket)
		opts = append(opts, telemetry.WithRecorder(client))
	}

	if len(opts) == 0 {
		return nil, nil
	}
	return telemetry.New(append(opts, telemetry.WithLogger(a.log.Component("telemetry")))...), nil
}

// healthCheck verifies the connected subsystems.
func (a *app) healthCheck(ctx context.Context) error {
	if err := a.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.mqtt != nil {
		if err := a.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if a.influx != nil {
		if err := a.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close shuts subsystems down in reverse start order. Open instruments
// close before the resource manager and the database.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// parseFilters turns key=value arguments into a parameter set.
func parseFilters(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("filter %q is not key=value", arg)
		}
		out[key] = value
	}
	return out, nil
}
