package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"geolink.local/internal/app/evaluation"
	"geolink.local/internal/app/evaluation/jobqueue"
	"geolink.local/internal/app/evaluation/probe"
	"geolink.local/internal/app/evaluation/report"
	"geolink.local/internal/app/evaluation/temporalflow"
	platformcache "geolink.local/internal/platform/cache"
	"geolink.local/internal/platform/config"
	"geolink.local/internal/platform/db"
	"geolink.local/internal/platform/httpserver"
	"geolink.local/internal/platform/logging"
	"geolink.local/internal/platform/metrics"
	"geolink.local/internal/platform/migrate"
	"geolink.local/internal/platform/trace"
	"geolink.local/migrations"
	"go.temporal.io/sdk/worker"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg := config.Load()
	logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-worker")

	dbCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	dbPool, errDB := db.New(dbCtx, cfg.DBDSN)
	if errDB != nil {
		log.Fatal(errDB)
	}
	defer dbPool.Close()
	if err := dbPool.Ping(dbCtx); err != nil {
		log.Fatal(err)
	}

	if cfg.MigrateOnStart {
		migCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := migrate.Up(migCtx, dbPool, migrate.Options{Dir: cfg.MigrationsDir, FS: migrations.FS})
		cancel()
		if err != nil {
			log.Fatal(err)
		}
	}

	metrics.Init()

	if cfg.TracingEnabled {
		shutdown, err := trace.Init(cfg.OtlpGrpcEndpoint, cfg.OtlpServiceName+"-worker", version)
		if err != nil {
			slog.Error("Trace init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					slog.Error(err.Error())
				}
			}()
		}
	}

	policy := evaluation.RetryPolicy{
		MaxAttempts:        cfg.EvalMaxAttempts,
		AttemptTimeout:     cfg.EvalAttemptTimeout,
		InitialBackoff:     cfg.EvalInitialBackoff,
		BackoffCoefficient: cfg.EvalBackoffCoefficient,
		MaxBackoff:         cfg.EvalMaxBackoff,
	}.Normalize()

	var probeOpts []probe.Option
	if cfg.EvalAllowPrivate {
		slog.Warn("evaluation may reach private networks", "EVAL_ALLOW_PRIVATE_NETWORKS", true)
		probeOpts = append(probeOpts, probe.AllowPrivateNetworks())
	}
	// 先 DNS 再 HTTP：NXDOMAIN 不必再发请求
	checker := probe.Chain(
		probe.NewDNSChecker(cfg.EvalDNSServers, 2*time.Second, probeOpts...),
		probe.NewHTTPChecker(cfg.EvalUserAgent, probeOpts...),
	)

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	//上报：postgres 直接写库；kafka 先发消息，本进程里的 consumer 攒批落库
	statusRepo := report.NewStatusRepo(dbPool)
	var reporter evaluation.Reporter = statusRepo
	switch cfg.ReportSink {
	case "postgres":
	case "kafka":
		slog.Info("使用 Kafka 上报评估结果", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		publisher := report.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		reporter = publisher

		consumer := report.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, statusRepo)
		defer consumer.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(stopCtx)
		}()
	default:
		log.Fatalf("unknown REPORT_SINK %q", cfg.ReportSink)
	}

	adminSrv := httpserver.NewAdmin(cfg, httpserver.AdminMux(cfg,
		httpserver.BuildInfo{Version: version, Commit: commit, BuildTime: buildTime},
		httpserver.ReadyCheck{Name: "postgres", Check: dbPool.Ping},
	))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpserver.Run(stopCtx, adminSrv, cfg.ShutdownTimeout); err != nil {
			slog.Error("admin server stopped", "err", err)
			stop()
		}
	}()

	switch cfg.EvalBackend {
	case "temporal":
		tc, err := temporalflow.Dial(cfg.TemporalAddress, cfg.TemporalNamespace)
		if err != nil {
			log.Fatal(err)
		}
		defer tc.Close()

		taskQueue := cfg.TemporalTaskQueue
		if taskQueue == "" {
			taskQueue = temporalflow.DefaultTaskQueue
		}
		w := worker.New(tc, taskQueue, worker.Options{})
		temporalflow.Register(w,
			&temporalflow.Workflows{Policy: policy},
			&temporalflow.Activities{Checker: checker, Reporter: reporter, AttemptTimeout: policy.AttemptTimeout},
		)
		if err := w.Start(); err != nil {
			log.Fatal(err)
		}
		slog.Info("temporal worker started", "task_queue", taskQueue, "namespace", cfg.TemporalNamespace)
		<-stopCtx.Done()
		w.Stop()

	case "streams":
		redisClient, err := platformcache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal(err)
		}
		defer redisClient.Close()

		q, err := jobqueue.NewStreamQueue(redisClient, jobqueue.StreamConfig{
			Stream:   cfg.EvalStream,
			Group:    cfg.EvalStreamGroup,
			Consumer: cfg.EvalConsumer,
		})
		if err != nil {
			log.Fatal(err)
		}
		w := jobqueue.NewWorker(jobqueue.NewRunsRepo(dbPool), q, checker, reporter, jobqueue.WorkerConfig{
			Policy:      policy,
			ReclaimIdle: cfg.EvalReclaimIdle,
		})
		slog.Info("streams worker started", "stream", cfg.EvalStream, "group", cfg.EvalStreamGroup, "consumer", cfg.EvalConsumer)
		w.Run(stopCtx)

	default:
		log.Fatalf("unknown EVAL_BACKEND %q", cfg.EvalBackend)
	}

	stop()
	wg.Wait()
	slog.Info("worker stopped")
}
