// Command memopiped is the memo pipeline daemon: it wires configuration,
// logging, tracing, the key store, the transaction repository, and the
// review/route/respond stages into a running orchestrator, and exposes a
// diagnostic HTTP surface (health/ready/live/metrics).
//
// Business-rule plug-ins -- the concrete pattern/rule bindings a
// deployment reviews transactions against -- are supplied by the
// embedding program, not by this binary; see registerBindings below.
package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/postfiat/memopipe/internal/audit"
	"github.com/postfiat/memopipe/internal/config"
	"github.com/postfiat/memopipe/internal/debug"
	"github.com/postfiat/memopipe/internal/group"
	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/ledger"
	"github.com/postfiat/memopipe/internal/metrics"
	"github.com/postfiat/memopipe/internal/middleware"
	"github.com/postfiat/memopipe/internal/model"
	"github.com/postfiat/memopipe/internal/orchestrator"
	"github.com/postfiat/memopipe/internal/repo"
	"github.com/postfiat/memopipe/internal/respond"
	"github.com/postfiat/memopipe/internal/review"
	"github.com/postfiat/memopipe/internal/route"
	"github.com/postfiat/memopipe/internal/telemetry"
)

// localChannelAddress is the pipeline's own ledger address, the
// "channel" side of every handshake. Production deployments source this
// from wallet custody, which is out of scope; here it is a fixed demo
// value an embedder is expected to override via registerBindings/config.
const localChannelAddress = "rMemoPipeChannel"

func main() {
	configPath := flag.String("config", "memopiped.yaml", "Path to daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memopiped: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	debug.InitFromLogLevel(cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.WithError(err).Fatal("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	metricsRegistry := metrics.NewMetrics()
	metricsRegistry.StartSystemMetricsCollector()

	keyManager, err := buildKeyManager(cfg.Keystore)
	if err != nil {
		logger.WithError(err).Fatal("failed to build key manager")
	}
	defer keyManager.Close(context.Background())

	var channelPriv [32]byte
	if _, err := rand.Read(channelPriv[:]); err != nil {
		logger.WithError(err).Fatal("failed to generate channel key material")
	}
	store, err := keystore.NewKMSBackedStore(ctx, keyManager, channelPriv, map[string]string{"role": "channel"})
	if err != nil {
		logger.WithError(err).Fatal("failed to seal channel key")
	}
	store.RotatedRead = func(envelopeVersion, activeVersion int) {
		metricsRegistry.RecordRotatedKeyVersionUnwrap(envelopeVersion, activeVersion)
	}

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		logger.WithError(err).Fatal("failed to build audit logger")
	}
	defer auditLogger.Close()

	repository, err := buildRepository(cfg.Repo)
	if err != nil {
		logger.WithError(err).Fatal("failed to open repository")
	}
	if closer, ok := repository.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	isLocalChannel := func(address string) bool { return address == localChannelAddress }
	bindings := registerBindings()

	memoQueue := make(chan model.MemoTx, 1024)

	assembler := group.New()
	finder := orchestrator.NewResponseFinder(repository)
	reviewer := review.New(bindings, assembler, store, isLocalChannel, finder)
	reviewer.Metrics = metricsRegistry

	router := route.New(bindings, repository, memoQueue)
	router.Audit = auditLogger
	router.Metrics = metricsRegistry

	ledgerClient := buildLedgerClient(cfg.Ledger)
	wallet := ledger.Wallet{Address: localChannelAddress}

	var processors []*respond.Processor
	for _, name := range router.QueueNames() {
		queue, ok := router.Queue(name)
		if !ok {
			continue
		}
		generator := findGenerator(bindings, name)
		if generator == nil {
			logger.WithField("response_pattern", name).Warn("no request rule bound to response pattern, skipping processor")
			continue
		}
		submitter := &respond.LedgerSubmitter{Client: ledgerClient, Wallet: wallet, Store: store, IsLocalChannel: isLocalChannel}
		processor := respond.New(name, generator, queue, submitter, router, logger.WithField("component", "respond"))
		processor.Audit = auditLogger
		processor.Metrics = metricsRegistry
		processors = append(processors, processor)
	}

	o := orchestrator.New(reviewer, router, processors, repository, ledgerClient, cfg.Ledger.Accounts, memoQueue, logger.WithField("component", "orchestrator"))
	o.Audit = auditLogger
	o.Metrics = metricsRegistry

	if err := o.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start orchestrator")
	}
	defer o.Stop()

	httpServer := buildHTTPServer(cfg.HTTP, logger, metricsRegistry, keyManager)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("diagnostic http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

// newLogger builds the process-wide logrus logger per cfg.
func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// buildKeyManager constructs the KeyManager that wraps/unwraps the
// channel store's private key at rest, per cfg.Provider.
func buildKeyManager(cfg config.KeystoreConfig) (keystore.KeyManager, error) {
	switch cfg.Provider {
	case "kmip":
		keys := make([]keystore.KMIPKeyReference, len(cfg.KMIPKeyIDs))
		for i, id := range cfg.KMIPKeyIDs {
			keys[i] = keystore.KMIPKeyReference{ID: id, Version: i + 1}
		}
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return keystore.NewKMIPManager(keystore.KMIPOptions{
			Endpoint:  cfg.KMIPEndpoint,
			Keys:      keys,
			TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			Timeout:   timeout,
			Provider:  "kmip",
		})
	case "local", "":
		var master [32]byte
		if _, err := rand.Read(master[:]); err != nil {
			return nil, fmt.Errorf("memopiped: generate local master key: %w", err)
		}
		return keystore.NewLocalManager(master), nil
	default:
		return nil, fmt.Errorf("memopiped: unknown keystore provider %q", cfg.Provider)
	}
}

// buildRepository constructs the transaction repository per cfg.Backend.
func buildRepository(cfg config.RepoConfig) (repo.Repository, error) {
	switch cfg.Backend {
	case "bbolt":
		return repo.OpenBoltStore(cfg.Path)
	case "memory", "":
		return repo.NewInMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("memopiped: unknown repository backend %q", cfg.Backend)
	}
}

// buildLedgerClient constructs the ledger client this process rides on
// top of. A real ledger connection is an out-of-scope collaborator; only
// the in-memory fake ships in this module, so deployments embedding a
// real client are expected to replace this with their own
// ledger.Client implementation.
func buildLedgerClient(cfg config.LedgerConfig) ledger.Client {
	return ledger.NewInMemoryClient()
}

// registerBindings returns the pattern/rule bindings the reviewer and
// router dispatch against. Concrete business rules are out of this
// module's scope; embedders register their own bindings here.
func registerBindings() []review.Binding {
	return nil
}

// findGenerator returns the RequestRule bound to the response pattern
// named name, if any.
func findGenerator(bindings []review.Binding, name string) model.RequestRule {
	for _, b := range bindings {
		reqRule, ok := b.Rule.(model.RequestRule)
		if !ok {
			continue
		}
		if reqRule.ResponsePatternName() == name {
			return reqRule
		}
	}
	return nil
}

// buildHTTPServer wires the diagnostic HTTP surface: health, readiness
// (gated on the key manager's health check), liveness, and Prometheus
// metrics, behind logging and panic-recovery middleware.
func buildHTTPServer(cfg config.HTTPConfig, logger *logrus.Logger, m *metrics.Metrics, keyManager keystore.KeyManager) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", metrics.HealthHandler())
	r.HandleFunc("/readyz", metrics.ReadinessHandler(keyManager.HealthCheck))
	r.HandleFunc("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", m.Handler())

	var handler http.Handler = r
	handler = middleware.RecoveryMiddleware(logger)(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)

	addr := cfg.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	return &http.Server{Addr: addr, Handler: handler}
}
