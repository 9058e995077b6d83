package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alarms "ngsi-gateway/internal/alarms/domain"
	alarmnotify "ngsi-gateway/internal/alarms/notify"
	"ngsi-gateway/internal/audit"
	"ngsi-gateway/internal/auth"
	"ngsi-gateway/internal/cbadapter"
	ngsiapp "ngsi-gateway/internal/ngsi/application"
	"ngsi-gateway/internal/ngsi/casting"
	ngsi "ngsi-gateway/internal/ngsi/domain"
	"ngsi-gateway/internal/ngsi/infrastructure/registry"
	ingesthttp "ngsi-gateway/internal/ngsi/interfaces/http"
	"ngsi-gateway/internal/ngsi/multientity"
	"ngsi-gateway/internal/observability/metrics"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if cfg.BrokerURL == "" {
		logger.Fatalf("CB_BASE_URL is required")
	}

	var (
		db       *sql.DB
		recorder audit.Logger
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		auditRepo := audit.NewRepository(db)
		if err := auditRepo.EnsureSchema(context.Background()); err != nil {
			logger.Fatalf("audit schema error: %v", err)
		}
		recorder = auditRepo
	}
	metrics.Init(db, logger)

	notifiers := []alarms.Notifier{alarmnotify.NewLogNotifier(logger), alarmnotify.MetricsNotifier{}}
	if cfg.AlarmWebhookURL != "" {
		channel, err := alarmnotify.NewWebhookChannel(cfg.AlarmWebhookURL)
		if err != nil {
			logger.Fatalf("alarm webhook error: %v", err)
		}
		template, err := alarmnotify.NewTemplate(cfg.AlarmNotifyTemplate)
		if err != nil {
			logger.Fatalf("alarm template error: %v", err)
		}
		webhook, err := alarmnotify.NewNotifier(channel, template,
			alarmnotify.WithLogger(logger),
			alarmnotify.WithInstance(cfg.InstanceName),
			alarmnotify.WithRequestTimeout(cfg.AlarmNotifyTimeout),
			alarmnotify.WithCooldown(cfg.AlarmNotifyCooldown),
			alarmnotify.WithDedupeWindow(cfg.AlarmNotifyDedupeWindow),
		)
		if err != nil {
			logger.Fatalf("alarm notifier error: %v", err)
		}
		notifiers = append(notifiers, alarmnotify.NewAsyncNotifier(webhook, 0, logger))
	}
	gate := alarms.NewGate(alarms.WithNotifier(alarmnotify.NewMultiNotifier(notifiers...)))

	clientOpts := []cbadapter.Option{
		cbadapter.WithTransport(cbadapter.NewHTTPTransport(cfg.BrokerTimeout)),
		cbadapter.WithGate(gate),
		cbadapter.WithLogger(logger),
	}
	if recorder != nil {
		clientOpts = append(clientOpts, cbadapter.WithRecorder(recorder))
	}
	client, err := cbadapter.NewClient(cfg.BrokerURL, clientOpts...)
	if err != nil {
		logger.Fatalf("broker client error: %v", err)
	}

	serviceOpts := []ngsiapp.ServiceOption{
		ngsiapp.WithLogger(logger),
		ngsiapp.WithExpander(multientity.NewExpander(multientity.WithDefaultConjunction(ngsi.Conjunction(cfg.Conjunction)))),
		ngsiapp.WithCaster(casting.NewCaster(casting.WithNumericDefault(cfg.NumericDefault))),
	}
	if tokens := buildTokenSource(cfg, logger); tokens != nil {
		serviceOpts = append(serviceOpts, ngsiapp.WithTokenSource(tokens))
	}
	service, err := ngsiapp.NewService(client, serviceOpts...)
	if err != nil {
		logger.Fatalf("ngsi service error: %v", err)
	}

	devices, err := registry.Load(cfg.RegistryPath, registry.WithFallback(registry.Defaults{
		DataModel: cfg.DataModel,
		Context:   splitList(cfg.LDContext),
	}))
	if err != nil {
		logger.Fatalf("device registry error: %v", err)
	}
	logger.Printf("device registry loaded: path=%s devices=%d", cfg.RegistryPath, len(devices.Devices()))
	go reloadOnHangup(devices, logger)

	ingestHandler, err := ingesthttp.NewHandler(devices, service, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(next, logger) })
	if cfg.JWTSecret != "" {
		authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
		r.Use(authMiddleware.Wrap)
	}
	ingestHandler.Routes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if gate.Active(alarms.BrokerAlarm) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("broker unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	logger.Printf("ngsi gateway listening on %s broker=%s", cfg.HTTPAddr, cfg.BrokerURL)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	HTTPAddr                string
	InstanceName            string
	BrokerURL               string
	BrokerTimeout           time.Duration
	DataModel               string
	LDContext               string
	Conjunction             string
	NumericDefault          float64
	RegistryPath            string
	DatabaseURL             string
	AlarmWebhookURL         string
	AlarmNotifyTemplate     string
	AlarmNotifyTimeout      time.Duration
	AlarmNotifyCooldown     time.Duration
	AlarmNotifyDedupeWindow time.Duration
	BrokerToken             string
	BrokerTokenSecret       string
	BrokerTokenTTL          time.Duration
	JWTSecret               string
}

func loadConfig() config {
	return config{
		HTTPAddr:                getenvDefault("HTTP_ADDR", ":4041"),
		InstanceName:            getenvDefault("INSTANCE_NAME", "ngsi-gateway"),
		BrokerURL:               getenvDefault("CB_BASE_URL", ""),
		BrokerTimeout:           getenvDuration("CB_TIMEOUT", 10*time.Second),
		DataModel:               getenvDefault("NGSI_DATA_MODEL", "v2"),
		LDContext:               getenvDefault("NGSI_LD_CONTEXT", ""),
		Conjunction:             getenvDefault("NGSI_CONJUNCTION", string(ngsi.ConjunctionNone)),
		NumericDefault:          getenvFloatDefault("NGSI_NUMERIC_DEFAULT", 0),
		RegistryPath:            getenvDefault("DEVICE_REGISTRY", "devices.yaml"),
		DatabaseURL:             getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		AlarmWebhookURL:         getenvDefault("ALARM_WEBHOOK_URL", ""),
		AlarmNotifyTemplate:     getenvDefault("ALARM_NOTIFY_TEMPLATE", ""),
		AlarmNotifyTimeout:      getenvDuration("ALARM_NOTIFY_TIMEOUT", 5*time.Second),
		AlarmNotifyCooldown:     getenvDuration("ALARM_NOTIFY_COOLDOWN", 0),
		AlarmNotifyDedupeWindow: getenvDuration("ALARM_NOTIFY_DEDUP_WINDOW", 0),
		BrokerToken:             getenvDefault("CB_TOKEN", ""),
		BrokerTokenSecret:       getenvDefault("CB_TOKEN_SECRET", ""),
		BrokerTokenTTL:          getenvDuration("CB_TOKEN_TTL", time.Hour),
		JWTSecret:               getenvDefault("INGEST_JWT_SECRET", ""),
	}
}

// buildTokenSource prefers minted service tokens over a static one.
func buildTokenSource(cfg config, logger *log.Logger) auth.TokenSource {
	if cfg.BrokerTokenSecret != "" {
		minter, err := auth.NewMinter([]byte(cfg.BrokerTokenSecret), cfg.InstanceName, cfg.BrokerTokenTTL)
		if err != nil {
			logger.Fatalf("broker token minter error: %v", err)
		}
		return minter
	}
	if cfg.BrokerToken != "" {
		return auth.StaticToken(cfg.BrokerToken)
	}
	return nil
}

func reloadOnHangup(devices *registry.FileRegistry, logger *log.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	for range signals {
		if err := devices.Reload(); err != nil {
			logger.Printf("device registry reload failed: %v", err)
			continue
		}
		logger.Printf("device registry reloaded: devices=%d", len(devices.Devices()))
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
