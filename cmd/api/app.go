package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/civiclens/clover/config"
	filingrepo "github.com/civiclens/clover/internal/repositories/filing"
	profilerepo "github.com/civiclens/clover/internal/repositories/profile"
	txrepo "github.com/civiclens/clover/internal/repositories/transaction"
	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/dedupe"
	"github.com/civiclens/clover/pkg/entitysync"
	"github.com/civiclens/clover/pkg/events"
	"github.com/civiclens/clover/pkg/fields"
	"github.com/civiclens/clover/pkg/importer"
	"github.com/civiclens/clover/pkg/jurisdiction"
	"github.com/civiclens/clover/pkg/kafka"
	"github.com/civiclens/clover/pkg/mapping"
	"github.com/civiclens/clover/pkg/middleware"
	"github.com/civiclens/clover/pkg/objectstore"
	"github.com/civiclens/clover/pkg/reconcile"
	"github.com/civiclens/clover/pkg/redis"
	adminroutes "github.com/civiclens/clover/pkg/routes/admin"
	filingroutes "github.com/civiclens/clover/pkg/routes/filing"
	"github.com/civiclens/clover/pkg/routes/health"
	profileroutes "github.com/civiclens/clover/pkg/routes/profile"
	"github.com/civiclens/clover/pkg/validation"
)

// app holds the shared state the startup dependencies build up in order
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db          database.DB
	redisClient *redis.Client
	locker      *redis.Locker
	producer    *kafka.Producer
	emitter     *events.Emitter
	store       objectstore.Store
	gcs         *objectstore.GCSStore

	echo      *echo.Echo
	checker   *health.Checker
	serverErr chan error
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:       cfg,
		logger:    logger,
		serverErr: make(chan error, 1),
	}
}

type databaseDependency struct {
	app *app
}

func (d *databaseDependency) GetName() string     { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	migrations := database.NewMigrationService(d.app.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.app.db = database.NewDatabaseInstance(sqlxDB, d.app.logger)
	return nil
}

func (d *databaseDependency) Stop(_ context.Context) error {
	if d.app.db == nil {
		return nil
	}
	return d.app.db.Close()
}

type redisDependency struct {
	app *app
}

func (d *redisDependency) GetName() string     { return "redis" }
func (d *redisDependency) DependsOn() []string { return nil }

func (d *redisDependency) Start(_ context.Context) error {
	cfg := d.app.cfg
	if !cfg.RedisEnabled {
		return nil
	}

	client, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, d.app.logger)
	if err != nil {
		return err
	}

	d.app.redisClient = client
	d.app.locker = redis.NewLocker(client, cfg.AppName)
	return nil
}

func (d *redisDependency) Stop(_ context.Context) error {
	if d.app.redisClient == nil {
		return nil
	}
	return d.app.redisClient.Close()
}

type kafkaDependency struct {
	app *app
}

func (d *kafkaDependency) GetName() string     { return "kafka" }
func (d *kafkaDependency) DependsOn() []string { return nil }

func (d *kafkaDependency) Start(_ context.Context) error {
	cfg := d.app.cfg
	if !cfg.KafkaEnabled {
		return nil
	}

	d.app.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, d.app.logger)
	d.app.emitter = events.NewEmitter(d.app.producer, d.app.logger)
	return nil
}

func (d *kafkaDependency) Stop(_ context.Context) error {
	if d.app.producer == nil {
		return nil
	}
	return d.app.producer.Close()
}

type storageDependency struct {
	app *app
}

func (d *storageDependency) GetName() string     { return "storage" }
func (d *storageDependency) DependsOn() []string { return nil }

func (d *storageDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg
	if cfg.StorageBucket == "" {
		d.app.logger.Warn("No storage bucket configured, archiving uploads in memory")
		d.app.store = objectstore.NewMemoryStore()
		return nil
	}

	gcs, err := objectstore.NewGCSStore(ctx, cfg.StorageBucket, d.app.logger)
	if err != nil {
		return err
	}
	d.app.gcs = gcs
	d.app.store = gcs
	return nil
}

func (d *storageDependency) Stop(_ context.Context) error {
	if d.app.gcs == nil {
		return nil
	}
	return d.app.gcs.Close()
}

type serverDependency struct {
	app *app
}

func (d *serverDependency) GetName() string     { return "server" }
func (d *serverDependency) DependsOn() []string { return []string{"database", "redis", "kafka", "storage"} }

func (d *serverDependency) Start(_ context.Context) error {
	a := d.app
	cfg := a.cfg

	fieldSet, err := loadFields(cfg)
	if err != nil {
		return err
	}
	classifier, err := loadClassifier(cfg)
	if err != nil {
		return err
	}

	var mapperOpts []mapping.Option
	if cfg.StrictHeaderPrefix {
		mapperOpts = append(mapperOpts, mapping.WithStrictPrefix())
	}
	mapper := mapping.NewMapper(fieldSet, mapperOpts...)
	validator := validation.NewValidator(fieldSet)

	filings := filingrepo.NewRepository(a.db, a.logger)
	profiles := profilerepo.NewRepository(a.db, a.logger)
	transactions := txrepo.NewRepository(a.db, a.logger)

	threshold, err := decimal.NewFromString(cfg.DonorThreshold)
	if err != nil {
		return fmt.Errorf("invalid donor threshold %q: %w", cfg.DonorThreshold, err)
	}
	resolver := entitysync.NewResolver(a.logger, profiles, transactions, classifier, threshold)
	if a.emitter != nil {
		resolver.SetEmitter(a.emitter)
	}

	var importEmitter importer.Emitter
	var mergeEmitter dedupe.Emitter
	if a.emitter != nil {
		importEmitter = a.emitter
		mergeEmitter = a.emitter
	}

	imp := importer.NewImporter(a.logger, a.db, filings, transactions, resolver, importEmitter)
	mergeEngine := dedupe.NewEngine(a.logger, a.db, profiles, filings, transactions, a.locker, mergeEmitter)
	reconciler := reconcile.NewReconciler(a.logger, filings, transactions)
	if a.emitter != nil {
		reconciler.SetEmitter(a.emitter)
	}
	backfiller := jurisdiction.NewBackfiller(a.logger, profiles, classifier)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	registrations := []func() error{
		func() error { return ectoinject.RegisterInstance[*filingrepo.Repository](container, filings) },
		func() error { return ectoinject.RegisterInstance[*profilerepo.Repository](container, profiles) },
		func() error { return ectoinject.RegisterInstance[*txrepo.Repository](container, transactions) },
		func() error { return ectoinject.RegisterInstance[objectstore.Store](container, a.store) },
		func() error { return ectoinject.RegisterInstance[*mapping.Mapper](container, mapper) },
		func() error { return ectoinject.RegisterInstance[*validation.Validator](container, validator) },
		func() error { return ectoinject.RegisterInstance[*importer.Importer](container, imp) },
		func() error { return ectoinject.RegisterInstance[*dedupe.Engine](container, mergeEngine) },
		func() error { return ectoinject.RegisterInstance[*reconcile.Reconciler](container, reconciler) },
		func() error { return ectoinject.RegisterInstance[*jurisdiction.Backfiller](container, backfiller) },
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return fmt.Errorf("failed to register dependency: %w", err)
		}
	}

	a.checker = health.NewChecker(a.db, a.redisClient, cfg.Version)
	a.echo = buildServer(cfg, a.logger, container, a.checker)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		a.logger.Infof("Listening on %s", addr)
		a.checker.SetReady(true)
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			a.serverErr <- err
		}
	}()

	return nil
}

func (d *serverDependency) Stop(ctx context.Context) error {
	if d.app.echo == nil {
		return nil
	}
	d.app.checker.SetReady(false)
	return d.app.echo.Shutdown(ctx)
}

func loadFields(cfg *config.Config) (*fields.Set, error) {
	if cfg.FieldDefinitionsPath != "" {
		return fields.Load(cfg.FieldDefinitionsPath)
	}
	return fields.Defaults()
}

func loadClassifier(cfg *config.Config) (*jurisdiction.Classifier, error) {
	if cfg.JurisdictionRulesPath != "" {
		return jurisdiction.Load(cfg.JurisdictionRulesPath)
	}
	return jurisdiction.Default()
}

func buildServer(cfg *config.Config, logger ectologger.Logger, container ectocontainer.DIContainer, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewRequestValidator()

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Inject(container))
	e.Use(middleware.Logger(logger))
	e.HTTPErrorHandler = middleware.Error(logger)

	checker.Register(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	filingroutes.Register(api.Group("/filings"))
	profileroutes.Register(api.Group("/profiles"))
	adminroutes.Register(api.Group("/admin"))

	return e
}
