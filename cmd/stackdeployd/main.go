package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/api"
	"github.com/stackdeploy-io/stackdeploy/internal/broadcast"
	"github.com/stackdeploy-io/stackdeploy/internal/config"
	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/metrics"
	"github.com/stackdeploy-io/stackdeploy/internal/provision"
	awsprovider "github.com/stackdeploy-io/stackdeploy/internal/provision/aws"
	"github.com/stackdeploy-io/stackdeploy/internal/provision/sim"
	"github.com/stackdeploy-io/stackdeploy/internal/store"
	"github.com/stackdeploy-io/stackdeploy/internal/telemetry"
)

func init() {
	if err := godotenv.Load("./.env"); err != nil {
		log.Println("No .env file found, reading from system environment")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	lg, err := logger.New(cfg.Server.Env, "stackdeployd")
	if err != nil {
		log.Fatalf("error creating logger: %v", err)
	}
	defer lg.Sync()

	shutdownTracer := telemetry.InitTracer("stackdeployd")
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			lg.Error("tracer shutdown", err)
		}
	}()

	metrics.Init()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("error opening store: %v", err)
	}
	defer db.Close()

	hub := broadcast.NewHub()
	if cfg.NATS.URL != "" {
		relay, err := broadcast.NewNATSRelay(cfg.NATS.URL, lg)
		if err != nil {
			lg.Warn("nats relay disabled")
			lg.Error("nats connect", err)
		} else {
			hub.SetRelay(relay)
			defer relay.Close()
		}
	}

	provisioner, probes, err := buildBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("error building provisioner backend: %v", err)
	}

	supervisor := deploy.NewSupervisor(deploy.SupervisorOptions{
		Store:       db,
		Publisher:   hub,
		Provisioner: provisioner,
		Probes:      probes,
		Backend:     cfg.Provisioner.Backend,
		Timeouts: deploy.Timeouts{
			Secret:      cfg.Deploy.SecretTimeout,
			Database:    cfg.Deploy.DatabaseTimeout,
			Graph:       cfg.Deploy.GraphTimeout,
			AppService:  cfg.Deploy.AppServiceTimeout,
			HealthCheck: cfg.Deploy.HealthCheckTimeout,
		},
		MaxConcurrentSteps: cfg.Deploy.MaxConcurrentSteps,
		Logger:             lg,
	})

	// Pick interrupted deployments back up before accepting new ones.
	if err := supervisor.ResumeAll(ctx); err != nil {
		lg.Error("resume deployments", err)
	}

	r := api.NewRouter(supervisor, hub, lg)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		lg.Info("HTTP server started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Error("HTTP server shutdown", err)
	}
	lg.Info("clean exit")
}

// buildBackend maps the configured backend name to a provisioner and the
// matching validation probes.
func buildBackend(ctx context.Context, cfg *config.Config) (provision.Provisioner, deploy.Probes, error) {
	reg := provision.NewRegistry()
	if err := reg.Register("sim", sim.New()); err != nil {
		return nil, deploy.Probes{}, err
	}
	if cfg.Provisioner.Backend == "aws" {
		p, err := awsprovider.New(ctx, awsprovider.Options{
			Region:        cfg.Provisioner.Region,
			Cluster:       cfg.Provisioner.Cluster,
			Subnets:       cfg.Provisioner.Subnets,
			SecurityGroup: cfg.Provisioner.SecurityGroup,
			ServiceDomain: cfg.Provisioner.ServiceDomain,
		})
		if err != nil {
			return nil, deploy.Probes{}, err
		}
		if err := reg.Register("aws", p); err != nil {
			return nil, deploy.Probes{}, err
		}
	}

	provisioner, err := reg.Get(cfg.Provisioner.Backend)
	if err != nil {
		return nil, deploy.Probes{}, err
	}
	probes := deploy.SimProbes()
	if cfg.Provisioner.Backend == "aws" {
		probes = deploy.CloudProbes()
	}
	return provisioner, probes, nil
}
