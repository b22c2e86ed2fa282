// Command rucat-monitor runs the stateless state monitor against a shared engine store,
// reconciling engine records against the Kubernetes orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rucat-project/rucat/internal/config"
	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/internal/metrics"
	"github.com/rucat-project/rucat/internal/monitor"
	"github.com/rucat-project/rucat/internal/resource"
	rucatk8s "github.com/rucat-project/rucat/internal/resource/kubernetes"
	"github.com/rucat-project/rucat/internal/storage/memory"
	"github.com/rucat-project/rucat/internal/storage/postgres"
	"github.com/rucat-project/rucat/internal/system"
	"github.com/rucat-project/rucat/pkg/logger"
)

func main() {
	configPath := flag.String("config-path", "", "path to the monitor configuration file")
	dsnFlag := flag.String("dsn", "", "PostgreSQL DSN (overrides config; in-memory storage when empty)")
	kubeconfig := flag.String("kubeconfig", "", "path to a kubeconfig file (defaults to in-cluster config)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	log := logger.NewFromEnv("rucat-monitor")
	metrics.SetDefault(metrics.New(prometheus.DefaultRegisterer))

	var cfg *config.MonitorConfig
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := config.LoadMonitorConfig(trimmed)
		if err != nil {
			log.WithField("error", err).Fatal("load config")
		}
		cfg = loaded
	}

	store, closeStore, err := buildStore(context.Background(), resolveDSN(*dsnFlag, cfg))
	if err != nil {
		log.WithField("error", err).Fatal("initialize store")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client, err := buildResourceClient(*kubeconfig, namespaceOf(cfg))
	if err != nil {
		log.WithField("error", err).Fatal("initialize kubernetes client")
	}

	interval := intervalOf(cfg)
	opts := monitorOptions(cfg)
	mon := monitor.New(store, client, log, interval, opts...)

	manager := system.NewManager()
	if err := manager.Register(mon); err != nil {
		log.WithField("error", err).Fatal("register monitor")
	}

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Warn("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		log.WithField("error", err).Fatal("start monitor")
	}
	log.WithField("interval", interval.String()).Info("rucat-monitor started")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := manager.Stop(shutdownCtx); err != nil {
		log.WithField("error", err).Fatal("shutdown")
	}
}

func buildStore(ctx context.Context, dsn string) (engine.Store, func(), error) {
	if dsn == "" {
		return memory.New(), nil, nil
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return postgres.New(db), func() { db.Close() }, nil
}

func buildResourceClient(kubeconfigPath, namespace string) (resource.Client, error) {
	restConfig, err := loadKubeConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	clientset, err := rucatk8s.NewClient(restConfig, namespace)
	if err != nil {
		return nil, err
	}
	return clientset, nil
}

func loadKubeConfig(path string) (*rest.Config, error) {
	if strings.TrimSpace(path) != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := home + "/.kube/config"
		if _, statErr := os.Stat(candidate); statErr == nil {
			return clientcmd.BuildConfigFromFlags("", candidate)
		}
	}
	return nil, fmt.Errorf("no kubeconfig found and not running in-cluster")
}

func resolveDSN(flagDSN string, cfg *config.MonitorConfig) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if cfg != nil && cfg.Database.Postgres != nil {
		return cfg.Database.Postgres.DSN()
	}
	return ""
}

func namespaceOf(cfg *config.MonitorConfig) string {
	if cfg != nil && strings.TrimSpace(cfg.KubernetesNamespace) != "" {
		return cfg.KubernetesNamespace
	}
	return "default"
}

func intervalOf(cfg *config.MonitorConfig) time.Duration {
	if cfg != nil && cfg.CheckIntervalSecs > 0 {
		return time.Duration(cfg.CheckIntervalSecs) * time.Second
	}
	return 5 * time.Second
}

func monitorOptions(cfg *config.MonitorConfig) []monitor.Option {
	var opts []monitor.Option
	if cfg == nil {
		return opts
	}
	if cfg.FanOut > 0 {
		opts = append(opts, monitor.WithFanOut(cfg.FanOut))
	}
	if cfg.ClaimTimeoutSecs > 0 {
		opts = append(opts, monitor.WithClaimTimeout(time.Duration(cfg.ClaimTimeoutSecs)*time.Second))
	}
	return opts
}
