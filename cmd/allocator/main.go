package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/engine"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/eventsource"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/publisher"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/repo"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/audit"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/elastic"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/env"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/serviceability"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store"
	boltstore "github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store/bolt"
	redisstore "github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store/redis"
	s3store "github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store/s3"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/streams"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/worker"
)

const (
	serviceName = "allocator"
	ruleStream  = "allocation_rules"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(env.Get("LOG_LEVEL", "info")),
	})).With("service", serviceName))

	if err := run(); err != nil {
		slog.Error("allocator stopped", "err", err.Error())
		os.Exit(1)
	}
	slog.Info("goodbye")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := ruleRepo()
	if err != nil {
		return err
	}
	defer rules.Close()

	pubOpts := []publisher.Option{}
	archive, err := snapshotArchive()
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
		pubOpts = append(pubOpts, publisher.WithArchive(archive))
	}
	pub := publisher.New(rules, pubOpts...)
	defer pub.Close()

	if err := pub.Reload(ctx); err != nil {
		return fmt.Errorf("initial rule load: %w", err)
	}
	if spec := env.Get("RELOAD_CRON", ""); spec != "" {
		if err := pub.Schedule(spec); err != nil {
			return err
		}
	}
	if err := pub.Watch(ctx); err != nil {
		if !errors.Is(err, publisher.ErrNotWatchable) {
			return err
		}
		slog.Info("rule repo has no change feed, reload on command or schedule", "repo", rules.Name())
	}

	resolver, fallback, err := serviceabilityAdapters()
	if err != nil {
		return err
	}

	var sinks []engine.DecisionSink
	var decisions *audit.ElasticSink
	if url := env.Get("ELASTIC_URL", ""); url != "" {
		es, err := elastic.NewClient(strings.Split(url, ",")...)
		if err != nil {
			return err
		}
		decisions = audit.NewElasticSink(es, audit.WithBatchSize(env.Int("ELASTIC_BATCH", 1)))
		defer decisions.Flush(context.Background())
		sinks = append(sinks, decisions)
	}

	var dispatcher *worker.Dispatcher
	if url := env.Get("REDIS_URL", ""); url != "" && env.Bool("MANUAL_REVIEW", true) {
		dispatcher = worker.NewDispatcherWithPool(serviceName, redisstore.New(url).Pool(), env.Int("REVIEW_WORKERS", 2))
		defer dispatcher.Close()
		sinks = append(sinks, audit.NewManualReviewSink(
			dispatcher,
			int64(env.Int("REVIEW_RETRIES", 5)),
			env.Duration("REVIEW_DELAY", 10*time.Minute),
		))
	}

	opts := []engine.Option{
		engine.WithSnapshots(pub),
		engine.WithResolver(resolver),
		engine.WithResolveTimeout(env.Duration("RESOLVE_TIMEOUT", 3*time.Second)),
		engine.WithWorkers(env.Int("WORKERS", 8)),
		engine.WithSinks(sinks...),
	}
	if fallback != nil {
		opts = append(opts, engine.WithFallback(fallback))
	}
	e := engine.NewEngine(opts...)
	e.OnStats(env.Duration("STATS_INTERVAL", time.Minute), func(stats *engine.EngineStats) {
		slog.Info("engine stats", "enabled", stats.EngineEnabled, "snapshot", stats.SnapshotVersion, "rules", stats.RulesLoaded)
	})

	if dispatcher != nil {
		dispatcher.AddHandler(audit.MANUAL_REVIEW_QUEUE, audit.RetryHandler(e, pub, func(ctx context.Context, d *allocation.Decision) error {
			if decisions == nil {
				return nil
			}
			return decisions.Record(ctx, d)
		}))
		go dispatcher.Run(ctx)
	}

	srv := metricsServer(env.Get("METRICS_ADDR", ":9090"))
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	src := eventsource.NewNatsEventSource(env.Get("NATS_URL", nats.DefaultURL), natsOptions()...)
	defer src.Close()

	slog.Info("allocator started", "repo", rules.Name(), "rules", pub.Current().Len(), "snapshot", pub.Current().Version())
	err = eventsource.Serve(ctx, src, e, env.Get("NATS_QUEUE", serviceName))
	if errors.Is(err, context.Canceled) {
		slog.Info("shutting down")
		return nil
	}
	return err
}

func ruleRepo() (repo.RuleRepo, error) {
	switch kind := env.Get("RULES_REPO", "disk"); kind {
	case "inmem":
		return repo.NewInMemoryRuleRepo(), nil
	case "disk":
		return repo.NewDiskRuleRepo(env.Get("RULES_DIR", "rules")), nil
	case "redis":
		return repo.NewRedisRuleRepo(env.Must("REDIS_URL")), nil
	case "bolt":
		return repo.NewKVRuleRepo(boltstore.New(env.Get("BOLT_PATH", "rules.db"), "rules")), nil
	case "postgres":
		return repo.NewPostgresRuleRepo(env.Must("POSTGRES_URL"))
	case "jetstream":
		return repo.NewJetstreamRuleRepo(natsStream())
	default:
		return nil, fmt.Errorf("unknown RULES_REPO %q", kind)
	}
}

// snapshotArchive is nil unless SNAPSHOT_ARCHIVE names a store.
func snapshotArchive() (store.Store, error) {
	switch kind := env.Get("SNAPSHOT_ARCHIVE", ""); kind {
	case "":
		return nil, nil
	case "s3":
		return s3store.New(env.Must("SNAPSHOT_BUCKET"), s3store.Options{
			Region:          env.Get("AWS_REGION", ""),
			Endpoint:        env.Get("S3_ENDPOINT", ""),
			AccessKeyID:     env.Get("AWS_ACCESS_KEY_ID", ""),
			AccessKeySecret: env.Get("AWS_SECRET_ACCESS_KEY", ""),
		}), nil
	case "redis":
		return redisstore.New(env.Must("REDIS_URL")), nil
	case "bolt":
		return boltstore.New(env.Get("SNAPSHOT_BOLT_PATH", "snapshots.db"), publisher.SNAPSHOT_PREFIX), nil
	default:
		return nil, fmt.Errorf("unknown SNAPSHOT_ARCHIVE %q", kind)
	}
}

// serviceabilityAdapters picks the remote api, a static coverage table or, with
// neither configured, treats every carrier as serviceable and has no fallback.
func serviceabilityAdapters() (allocation.ActionResolver, allocation.FallbackStrategy, error) {
	if url := env.Get("SERVICEABILITY_URL", ""); url != "" {
		c := serviceability.NewClient(url, env.Get("SERVICEABILITY_TOKEN", ""))
		c.SetTimeout(env.Duration("SERVICEABILITY_TIMEOUT", 5*time.Second))
		return allocation.NewServiceabilityResolver(c), c, nil
	}
	if path := env.Get("SERVICEABILITY_TABLE", ""); path != "" {
		s, err := serviceability.LoadStatic(path)
		if err != nil {
			return nil, nil, err
		}
		return allocation.NewServiceabilityResolver(s), s, nil
	}
	slog.Warn("no serviceability source configured, every carrier is serviceable")
	return allocation.NewServiceabilityResolver(nil), nil, nil
}

// natsStream carries the NATS authentication, nkeys win over a credentials file.
func natsStream() *streams.Stream {
	s := streams.NewStream(env.Get("NATS_URL", nats.DefaultURL), env.Get("RULES_STREAM", ruleStream))
	s.SetNKeys(env.Get("NATS_NKEY_USER", ""), env.Get("NATS_NKEY_SEED", ""))
	s.SetCredentialsPath(env.Get("NATS_CREDENTIALS", ""))
	return s
}

func natsOptions() []nats.Option {
	return append([]nats.Option{nats.Name(serviceName)}, natsStream().ConnectOptions()...)
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err.Error())
		}
	}()
	return srv
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
