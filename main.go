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

	"github.com/gluk-w/sshdeck/internal/config"
	"github.com/gluk-w/sshdeck/internal/console"
	"github.com/gluk-w/sshdeck/internal/crypto"
	"github.com/gluk-w/sshdeck/internal/database"
	"github.com/gluk-w/sshdeck/internal/handlers"
	"github.com/gluk-w/sshdeck/internal/logging"
	"github.com/gluk-w/sshdeck/internal/metrics"
	"github.com/gluk-w/sshdeck/internal/proxytunnel"
	"github.com/gluk-w/sshdeck/internal/sshaudit"
	"github.com/gluk-w/sshdeck/internal/sshmanager"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--export":
			runCLICommand("export")
			return
		case "--import":
			runCLICommand("import")
			return
		}
	}

	config.Load()
	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	store := openStore()
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	gauges := metrics.NewGauges(reg)

	readyTimeout := config.Duration(config.Cfg.SSHReadyTimeout, sshmanager.DefaultReadyTimeout)
	keepalive := config.Duration(config.Cfg.SSHKeepaliveInterval, sshmanager.DefaultKeepaliveInterval)
	negotiator := proxytunnel.New()
	sshMgr := sshmanager.NewManager(sshmanager.Config{
		ReadyTimeout:      readyTimeout,
		KeepaliveInterval: keepalive,
		Tunneler:          negotiator,
	})
	log.Printf("SSH manager initialized (ready_timeout=%s, keepalive=%s)", readyTimeout, keepalive)

	auditor := sshaudit.NewAuditor(store.DB(), config.Cfg.AuditRetentionDays)

	metricsInterval := config.Duration(config.Cfg.MetricsInterval, metrics.DefaultInterval)
	svc := console.New(store, console.Options{
		Manager:         sshMgr,
		Negotiator:      negotiator,
		Auditor:         auditor,
		Gauges:          gauges,
		MetricsInterval: metricsInterval,
	})
	if err := svc.Start(); err != nil {
		log.Fatalf("Console start: %v", err)
	}
	log.Printf("Metrics collection every %s, audit retention %d days", metricsInterval, auditor.RetentionDays())

	api := &handlers.Handler{
		Console:    svc,
		Store:      store,
		Auditor:    auditor,
		Gatherer:   reg,
		InputRate:  rate.Limit(config.Cfg.TerminalInputRate),
		InputBurst: config.Cfg.TerminalInputBurst,
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Mount("/", api.Routes())

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	svc.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// openStore opens the database and installs the credential sealer.
func openStore() *database.Store {
	store, err := database.Open(config.Cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Database init: %v", err)
	}
	sealer, err := crypto.LoadOrCreate(store)
	if err != nil {
		log.Fatalf("Encryption key init: %v", err)
	}
	store.SetSealer(sealer)
	return store
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	file := fs.String("file", "", "Inventory YAML file")
	replace := fs.Bool("replace", false, "Remove existing groups, servers and proxies before importing")
	fs.Parse(os.Args[2:])

	if *file == "" {
		fmt.Fprintf(os.Stderr, "Usage: sshdeck --%s --file <inventory.yaml>\n", command)
		os.Exit(1)
	}

	config.Load()
	store := openStore()
	defer store.Close()

	switch command {
	case "export":
		data, err := store.ExportYAML()
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		if err := os.WriteFile(*file, data, 0600); err != nil {
			log.Fatalf("Write %s: %v", *file, err)
		}
		fmt.Printf("Inventory exported to %s.\n", *file)

	case "import":
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("Read %s: %v", *file, err)
		}
		res, err := store.ImportYAML(data, *replace)
		if err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		fmt.Printf("Imported %d groups, %d servers and %d proxies.\n", res.Groups, res.Servers, res.Proxies)
	}
}
