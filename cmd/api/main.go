package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/clock"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/httpapi"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/obs"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/outbox"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/store/pg"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/vesting"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("VESTING_BUILD_COMMIT"))

	policy, err := vesting.ParseStopPolicy(os.Getenv("VESTING_STOP_POLICY"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg := vesting.Config{
		Admin:  os.Getenv("VESTING_ADMIN"),
		Policy: policy,
	}

	// Durable store when a DSN is configured, in-memory otherwise.
	var (
		store   vesting.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("VESTING_PG_DSN"); dsn != "" {
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		store = vesting.NewInMemory()
	}

	// Custody is an external settlement concern; the in-process ledger
	// with overdraft stands in until a network adapter is wired.
	custody := vesting.NewInMemoryCustody(true)

	engine := vesting.NewEngine(store, custody, clock.System{}, cfg)
	views := vesting.NewViews(store)
	events := outbox.New()

	probe := httpapi.ReadyProbe{}
	if pgStore != nil {
		probe.DB = pgStore.DB()
	}
	api := httpapi.New(probe, version, engine, views, events)

	httpAddr := os.Getenv("VESTING_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// gRPC health endpoint for orchestrators.
	grpcAddr := os.Getenv("VESTING_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = ":9090"
	}
	grpcSrv := grpc.NewServer()
	healthSvc := httpapi.NewGRPCHealth(probe)
	healthSvc.Register(grpcSrv)
	go healthSvc.Watch(rootCtx, 10*time.Second)
	go func() {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil {
			log.Printf("grpc serve: %v", err)
		}
	}()

	log.Printf("Starting vesting-api %s on %s (grpc %s)", version, srv.Addr, grpcAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	rootCancel()
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
