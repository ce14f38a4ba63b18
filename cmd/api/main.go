package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geolink.local/gee"
	"geolink.local/gee/middleware"
	"geolink.local/internal/app/evaluation"
	evalhttpapi "geolink.local/internal/app/evaluation/httpapi"
	"geolink.local/internal/app/evaluation/jobqueue"
	"geolink.local/internal/app/evaluation/report"
	"geolink.local/internal/app/evaluation/temporalflow"
	geocache "geolink.local/internal/app/georoute/cache"
	geohttpapi "geolink.local/internal/app/georoute/httpapi"
	"geolink.local/internal/app/georoute/repo"
	"geolink.local/internal/platform/auth"
	platformcache "geolink.local/internal/platform/cache"
	"geolink.local/internal/platform/config"
	"geolink.local/internal/platform/db"
	"geolink.local/internal/platform/httpmiddleware"
	"geolink.local/internal/platform/httpserver"
	"geolink.local/internal/platform/logging"
	"geolink.local/internal/platform/metrics"
	"geolink.local/internal/platform/migrate"
	"geolink.local/internal/platform/ratelimit"
	"geolink.local/internal/platform/trace"
	"geolink.local/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg := config.Load()
	logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-api")

	//DB
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
	slog.Info("数据库连接成功")

	if cfg.MigrateOnStart {
		migCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		res, err := migrate.Up(migCtx, dbPool, migrate.Options{Dir: cfg.MigrationsDir, FS: migrations.FS})
		cancel()
		if err != nil {
			log.Fatal(err)
		}
		slog.Info("migrations applied", "source", res.Source, "applied", res.AppliedFiles, "skipped", len(res.SkippedFiles))
	}

	//Redis：为空时关闭 L2 缓存和限流，streams 后端不可用
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		c, err := platformcache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal(err)
		}
		redisClient = c
		defer redisClient.Close()
	} else {
		slog.Warn("Redis disabled by config", "REDIS_ADDR", "")
	}

	//限流器
	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled && redisClient != nil {
		limiter = ratelimit.NewLimiter(redisClient)
	} else {
		slog.Warn("RateLimit disabled", "RATELIMIT_ENABLED", cfg.RateLimitEnabled)
	}

	//目的地缓存
	var destCache *geocache.DestinationCache
	if cfg.CacheEnabled {
		localCache, err := geocache.NewLocalCache(100000, 1<<24) // 10万条目，16MB
		if err != nil {
			log.Fatal(err)
		}
		destCache = geocache.NewDestinationCache(redisClient, localCache)
		defer destCache.Close()
	}
	var bloomFilter *geocache.BloomFilter
	if cfg.BloomEnabled {
		bloomFilter = geocache.NewBloomFilter(cfg.BloomExpectedItems, cfg.BloomFalsePositive)
	}
	linksRepo := repo.NewLinksRepo(dbPool, destCache, bloomFilter)
	statusRepo := report.NewStatusRepo(dbPool)

	//评估后端：只负责登记，探测在 worker 里跑
	var substrate evaluation.Substrate
	switch cfg.EvalBackend {
	case "temporal":
		tc, err := temporalflow.Dial(cfg.TemporalAddress, cfg.TemporalNamespace)
		if err != nil {
			log.Fatal(err)
		}
		defer tc.Close()
		substrate = temporalflow.NewSubstrate(tc, cfg.TemporalTaskQueue)
	case "streams":
		if redisClient == nil {
			log.Fatal("EVAL_BACKEND=streams requires REDIS_ADDR")
		}
		q, err := jobqueue.NewStreamQueue(redisClient, jobqueue.StreamConfig{
			Stream:   cfg.EvalStream,
			Group:    cfg.EvalStreamGroup,
			Consumer: cfg.EvalConsumer,
		})
		if err != nil {
			log.Fatal(err)
		}
		substrate = jobqueue.NewSubstrate(jobqueue.NewRunsRepo(dbPool), q)
	default:
		log.Fatalf("unknown EVAL_BACKEND %q", cfg.EvalBackend)
	}
	evalSvc := evaluation.NewService(substrate)
	slog.Info("evaluation backend ready", "backend", substrate.Name())

	// JWT
	ts, jwtErr := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if jwtErr != nil {
		log.Fatal(jwtErr)
	}

	metrics.Init()

	if cfg.TracingEnabled {
		shutdown, err := trace.Init(cfg.OtlpGrpcEndpoint, cfg.OtlpServiceName, version)
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
	} else {
		slog.Warn("Tracing disabled by config", "TRACING_ENABLED", false)
	}

	// 对外业务
	r := gee.New()
	r.Use(gee.Recovery(), middleware.ReqID(), middleware.AccessLog(), httpmiddleware.Metrics(), httpmiddleware.TraceName())

	r.GET("/healthz", func(ctx *gee.Context) {
		ctx.String(http.StatusOK, "ok")
	})

	api := r.Group("/api/v1")
	evalhttpapi.RegisterAPIRoutes(api, evalSvc, linksRepo, statusRepo, ts, limiter)
	geohttpapi.RegisterPublicRoutes(r, linksRepo, limiter, geohttpapi.RedirectOptions{
		TrustedProxiesOnly: cfg.GeoTrustedProxiesOnly,
	})

	publicHandler := http.Handler(r)
	if cfg.TracingEnabled {
		publicHandler = otelhttp.NewHandler(r, "http")
	}
	publicSrv := httpserver.New(cfg, publicHandler)

	adminSrv := httpserver.NewAdmin(cfg, httpserver.AdminMux(cfg,
		httpserver.BuildInfo{Version: version, Commit: commit, BuildTime: buildTime},
		httpserver.ReadyCheck{Name: "postgres", Check: dbPool.Ping},
	))

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 布隆过滤器：全量加载完成前不拦截任何 id
	if bloomFilter != nil {
		go linksRepo.RunBloomRefresher(stopCtx, cfg.BloomRefreshInterval)
	}
	// 链接被改动 / 禁用时由 pg_notify 触发清缓存
	go linksRepo.RunInvalidationListener(stopCtx)

	errch := make(chan error, 2)
	go func() {
		errch <- httpserver.Run(stopCtx, publicSrv, cfg.ShutdownTimeout)
	}()
	go func() {
		errch <- httpserver.Run(stopCtx, adminSrv, cfg.ShutdownTimeout)
	}()
	slog.Info("api listening", "addr", cfg.Addr, "admin_addr", cfg.AdminAddr)

	err := <-errch
	if err != nil {
		stop()
		select {
		case <-errch:
		case <-time.After(cfg.ShutdownTimeout + time.Second):
		}
		log.Fatal(err)
	}

	stop()
	<-errch
}
