package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/spotstr/internal/api"
	"github.com/onnwee/spotstr/internal/archive"
	"github.com/onnwee/spotstr/internal/config"
	"github.com/onnwee/spotstr/internal/contacts"
	"github.com/onnwee/spotstr/internal/groups"
	"github.com/onnwee/spotstr/internal/health"
	"github.com/onnwee/spotstr/internal/ingest"
	"github.com/onnwee/spotstr/internal/jobs"
	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/middleware"
	"github.com/onnwee/spotstr/internal/profile"
	"github.com/onnwee/spotstr/internal/publish"
	"github.com/onnwee/spotstr/internal/relay"
	"github.com/onnwee/spotstr/internal/sharing"
	"github.com/onnwee/spotstr/internal/signer"
	"github.com/onnwee/spotstr/internal/tracing"
)

const serviceName = "spotstr"

const (
	purgeInterval = time.Hour
	purgeTimeout  = time.Minute
)

// app is the wired daemon.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	tracing  *tracing.Provider

	pool     *relay.Pool
	engine   *ingest.Engine
	keyring  *signer.Keyring
	groups   *groups.Registry
	contacts *contacts.Registry
	builder  *location.Builder
	pipeline *publish.Pipeline
	session  *sharing.Session
	manual   *sharing.ManualSource
	archive  archive.Repository
	profiles profile.Cache

	db    *sql.DB
	redis *redis.Client

	handler http.Handler

	jobs *jobs.Runner

	closeOnce sync.Once
}

// newApp builds every component from cfg. Nothing connects to relays until Start.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		keyring:  signer.NewKeyring(),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.tracing, err = tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.Tracing.Enabled,
		Environment:  cfg.Env,
		ExporterType: cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SampleRate,
		InsecureMode: cfg.Tracing.Insecure,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := a.initRelays(); err != nil {
		return nil, err
	}
	if err := a.initArchive(ctx); err != nil {
		return nil, err
	}
	if err := a.initProfiles(); err != nil {
		return nil, err
	}

	ingestMetrics := ingest.NewMetrics()
	publishMetrics := publish.NewMetrics()
	sharingMetrics := sharing.NewMetrics()
	httpMetrics := middleware.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, m := range []interface{ Register(prometheus.Registerer) error }{
		ingestMetrics, publishMetrics, sharingMetrics, httpMetrics, jobMetrics,
	} {
		if err := m.Register(a.registry); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	dispatcher := signer.NewDispatcher(logger)
	a.engine = ingest.NewEngine(ingest.Config{
		ReplaceOnlyNewer: cfg.ReplaceOnlyNewer,
		Debounce:         cfg.DecryptDebounce,
	}, dispatcher, a.archive, logger, ingestMetrics)

	if err := a.initIdentities(); err != nil {
		return nil, err
	}

	a.builder = location.NewBuilder(dispatcher, nil)
	a.pipeline = publish.NewPipeline(a.pool, logger, publishMetrics)

	var source sharing.PositionSource
	if cfg.Share.Source == config.SourceManual {
		a.manual = sharing.NewManualSource()
		source = a.manual
	} else {
		source = sharing.NewSimulator(nil)
	}
	a.session = sharing.NewSession(source, sharing.Config{
		Precision: cfg.GeohashPrecision,
		Heartbeat: cfg.HeartbeatInterval,
		Logger:    logger,
		Metrics:   sharingMetrics,
	})

	a.jobs = jobs.NewRunner(nil, logger, jobMetrics)
	for _, job := range a.purgeJobs() {
		a.jobs.Add(job)
	}

	a.handler = a.router(ctx, httpMetrics)
	return a, nil
}

func (a *app) initRelays() error {
	template := relay.DefaultConfig("")
	template.AckTimeout = a.cfg.AckTimeout

	relayMetrics := relay.NewMetrics()
	if err := relayMetrics.Register(a.registry); err != nil {
		return fmt.Errorf("register relay metrics: %w", err)
	}
	a.pool = relay.NewPool(template, a.logger, relayMetrics)
	for _, url := range a.cfg.LocationRelays {
		if err := a.pool.Add(url, relay.RoleLocation); err != nil {
			return err
		}
	}
	for _, url := range a.cfg.ProfileRelays {
		if err := a.pool.Add(url, relay.RoleProfile); err != nil {
			return err
		}
	}
	return nil
}

// initArchive uses PostgreSQL when a database URL is configured and an
// in-memory archive otherwise.
func (a *app) initArchive(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.archive = archive.NewMemoryRepository()
		return nil
	}
	db, err := archive.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.db = db
	repo := archive.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	a.archive = repo
	a.logger.Info("location archive using postgres")
	return nil
}

func (a *app) initProfiles() error {
	if a.cfg.RedisURL == "" {
		a.profiles = profile.NewMemoryCache(profile.DefaultTTL, nil)
		return nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	a.redis = redis.NewClient(opts)
	a.profiles = profile.NewRedisCache(a.redis, "", profile.DefaultTTL)
	a.logger.Info("profile cache using redis")
	return nil
}

// initIdentities loads accounts and groups into the keyring and the
// decryption engine, and fills the address book. Config validation has
// already checked every key.
func (a *app) initIdentities() error {
	for _, key := range a.cfg.Accounts {
		id, err := parseAccount(key)
		if err != nil {
			return err
		}
		a.addAccount(id)
	}

	a.groups = groups.NewRegistry(nil)
	a.groups.OnAdded(func(g *groups.Group) { a.engine.AddGroup(g.Identity()) })
	a.groups.OnRemoved(func(g *groups.Group) { a.engine.RemoveIdentity(g.Pubkey) })
	for _, gc := range a.cfg.Groups {
		if _, err := a.groups.ImportNsec(gc.Name, gc.Nsec); err != nil {
			return fmt.Errorf("group %q: %w", gc.Name, err)
		}
	}

	a.contacts = contacts.NewRegistry(nil)
	for _, cc := range a.cfg.Contacts {
		if _, err := a.contacts.Add(cc.Pubkey, cc.Name); err != nil && !errors.Is(err, contacts.ErrDuplicate) {
			return fmt.Errorf("contact %q: %w", cc.Pubkey, err)
		}
	}
	return nil
}

func (a *app) receivers() api.ReceiverResolver {
	return api.ReceiverResolver{Contacts: a.contacts, Groups: a.groups}
}

func (a *app) addAccount(id signer.Identity) {
	if a.keyring.Add(id) {
		a.engine.AddAccount(id)
	}
}

// parseAccount accepts a secret for a signing account or a public key for
// a watch-only account.
func parseAccount(key string) (signer.Identity, error) {
	if sk, err := signer.ParseSecretKey(key); err == nil {
		return signer.NewLocalKey(sk)
	}
	return signer.NewWatchOnly(key)
}

func (a *app) newSend(sender signer.Identity, receiver, name string, expiry time.Duration) sharing.SendFunc {
	return sharing.PublishSender(a.builder, a.pipeline, sender, receiver, sharing.PublishOptions{
		Name:   name,
		Expiry: expiry,
		Relays: a.locationRelays,
	})
}

func (a *app) locationRelays() []string {
	return a.pool.URLs(relay.RoleLocation)
}

func (a *app) router(ctx context.Context, httpMetrics *middleware.Metrics) http.Handler {
	checkers := map[string]api.HealthChecker{
		"relays": health.NewRelayChecker(a.pool, relay.RoleLocation),
	}
	if a.db != nil {
		checkers["database"] = health.NewDBChecker(a.db)
	}
	if a.redis != nil {
		checkers["redis"] = health.NewRedisChecker(a.redis)
	}
	senders := api.Resolvers{a.keyring, a.groups}

	return api.NewRouter(api.RouterConfig{
		Logger:      a.logger,
		ServiceName: serviceName,
		Metrics:     httpMetrics,
		Gatherer:    a.registry,
		Tracing:     a.tracing.IsEnabled(),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			Checkers: checkers,
			// Profiles fall back to relays when the cache is down.
			Optional: []string{"redis"},
		}),
		Locations: api.NewLocationHandlers(api.LocationHandlersConfig{
			Store:     a.engine,
			Builder:   a.builder,
			Pipeline:  a.pipeline,
			Senders:   senders,
			Receivers: a.receivers(),
			Relays:    a.locationRelays,
			Precision: a.cfg.GeohashPrecision,
		}),
		Relays: api.NewRelayHandlers(a.pool),
		Sharing: api.NewSharingHandlers(api.SharingHandlersConfig{
			Session:     a.session,
			Senders:     senders,
			Receivers:   a.receivers(),
			NewSend:     a.newSend,
			BaseContext: ctx,
			Manual:      a.manual,
		}),
		Groups:   api.NewGroupHandlers(a.groups),
		Contacts: api.NewContactHandlers(a.contacts, contacts.NewFollowImporter(a.pool, contacts.DefaultFollowTimeout, a.logger)),
		Profiles: api.NewProfileHandlers(profile.NewFetcher(a.pool, a.profiles, profile.DefaultQueryTimeout, a.logger)),
		Archive:  api.NewArchiveHandlers(a.archive),
	})
}

// Start subscribes to location events, connects the relays, starts the
// configured sharing session and the purge jobs.
func (a *app) Start(ctx context.Context) error {
	a.engine.Start(ctx)
	a.pool.Subscribe(relay.RoleLocation, ingest.Filter(), a.engine.HandleRelayEvent)
	a.pool.Start(ctx)

	if a.cfg.Share.Enabled {
		if err := a.startConfiguredShare(ctx); err != nil {
			return err
		}
	}

	a.jobs.Start(ctx)
	return nil
}

func (a *app) startConfiguredShare(ctx context.Context) error {
	sk, err := signer.ParseSecretKey(a.cfg.Share.Sender)
	if err != nil {
		return fmt.Errorf("share sender: %w", err)
	}
	sender, err := signer.NewLocalKey(sk)
	if err != nil {
		return fmt.Errorf("share sender: %w", err)
	}
	receiver, err := a.receivers().Resolve(a.cfg.Share.Receiver)
	if err != nil {
		return fmt.Errorf("share receiver: %w", err)
	}
	// The sender can read its own events back.
	a.addAccount(sender)

	send := a.newSend(sender, receiver, a.cfg.Share.Name, a.cfg.ShareExpiry())
	return a.session.Start(ctx, sender.PublicKey(), receiver, send, nil)
}

// purgeJobs removes expired archive rows and cached profiles.
func (a *app) purgeJobs() []jobs.Job {
	return []jobs.Job{
		{
			Name:     jobs.JobArchivePurge,
			Interval: purgeInterval,
			Timeout:  purgeTimeout,
			Run: func(ctx context.Context) (int64, error) {
				return a.archive.DeleteExpired(ctx, time.Now().Unix())
			},
		},
		{
			Name:     jobs.JobProfilePurge,
			Interval: purgeInterval,
			Timeout:  purgeTimeout,
			Run: func(ctx context.Context) (int64, error) {
				n, err := a.profiles.ClearExpired(ctx)
				return int64(n), err
			},
		},
	}
}

// Close stops sharing, disconnects relays and releases storage clients.
func (a *app) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		if a.session != nil {
			a.session.Stop()
		}
		if a.jobs != nil {
			a.jobs.Stop()
		}
		if a.pool != nil {
			a.pool.Close()
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.logger.Warn("failed to close database", slog.String("error", err.Error()))
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("failed to close redis", slog.String("error", err.Error()))
			}
		}
		if a.tracing != nil {
			if err := a.tracing.Shutdown(ctx); err != nil {
				a.logger.Warn("failed to shut down tracing", slog.String("error", err.Error()))
			}
		}
	})
}
