// Command devlogd is the CLI surface for the log collection daemon:
// init/start/server/collectors/status/logs/migrate/daemon. Argument
// parsing beyond simple per-subcommand flags, and reading a YAML/JSON
// config file, are out of scope here — flags only override the
// resolved config.Default() the way LOG_COLLECTOR_* env vars do.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"devlogd/internal/alerting"
	"devlogd/internal/analyzer"
	"devlogd/internal/collector"
	"devlogd/internal/config"
	"devlogd/internal/server"
	"devlogd/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "init":
		cmdInit(args)
	case "start":
		cmdStart(args)
	case "daemon":
		cmdDaemon(args)
	case "server":
		cmdServer(args)
	case "collectors":
		cmdCollectors(args)
	case "status":
		cmdStatus(args)
	case "logs":
		cmdLogs(args)
	case "migrate":
		cmdMigrate(args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: devlogd <init|start|server|collectors|status|logs|migrate|daemon> [flags]")
}

func loadConfig(fs *flag.FlagSet, args []string) *config.Config {
	cfg := config.Default()
	dbPath := fs.String("db", cfg.Store.Path, "path to the SQLite database file")
	port := fs.Int("port", cfg.Server.Port, "server listen port")
	fs.Parse(args)
	cfg.Store.Path = *dbPath
	cfg.Server.Port = *port
	config.ApplyEnv(cfg)
	return cfg
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfg := loadConfig(fs, args)
	st, err := store.New(cfg.Store)
	if err != nil {
		log.Fatalf("devlogd init: %v", err)
	}
	defer st.Close()
	fmt.Printf("initialized store at %s\n", cfg.Store.Path)
}

func cmdMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	cfg := loadConfig(fs, args)
	st, err := store.New(cfg.Store)
	if err != nil {
		log.Fatalf("devlogd migrate: %v", err)
	}
	defer st.Close()
	fmt.Println("schema up to date")
}

// cmdServer runs only the JSON-RPC/WebSocket server against an
// existing store, with no collectors attached.
func cmdServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	cfg := loadConfig(fs, args)
	runServer(cfg, nil)
}

// cmdStart runs the full daemon: store, analyzer, server, and the
// default collector set together, matching the teacher's main.go
// startup/shutdown sequence (env-driven wiring, signal-triggered
// graceful shutdown).
func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	cfg := loadConfig(fs, args)
	runServer(cfg, defaultCollectors(cfg))
}

// cmdDaemon runs the same startup sequence as cmdStart but also writes
// a pidfile at ./.log_collector/daemon.pid, so a process supervisor or
// a later `devlogd` invocation can locate the running instance.
func cmdDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	pidDir := "./.log_collector"
	if err := os.MkdirAll(pidDir, 0o755); err != nil {
		log.Fatalf("devlogd daemon: create pid dir: %v", err)
	}
	pidPath := pidDir + "/daemon.pid"
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Fatalf("devlogd daemon: write pidfile: %v", err)
	}
	defer os.Remove(pidPath)

	runServer(cfg, defaultCollectors(cfg))
}

func cmdCollectors(args []string) {
	fs := flag.NewFlagSet("collectors", flag.ExitOnError)
	cfg := loadConfig(fs, args)
	for _, c := range defaultCollectors(cfg) {
		fmt.Println(c.Name())
	}
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfg := loadConfig(fs, args)
	st, err := store.New(cfg.Store)
	if err != nil {
		log.Fatalf("devlogd status: %v", err)
	}
	defer st.Close()
	stats, err := st.Stats(context.Background(), time.Now().Add(-24*time.Hour), "24h")
	if err != nil {
		log.Fatalf("devlogd status: %v", err)
	}
	fmt.Printf("total=%d hot=%d archive=%d\n", stats.Basic.TotalLogs, stats.HotRows, stats.ArchiveRows)
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	source := fs.String("source", "", "filter by source")
	limit := fs.Int("limit", 50, "max rows")
	cfg := config.Default()
	fs.Parse(args)
	config.ApplyEnv(cfg)

	st, err := store.New(cfg.Store)
	if err != nil {
		log.Fatalf("devlogd logs: %v", err)
	}
	defer st.Close()

	opts := store.QueryOptions{Limit: *limit}
	if *source != "" {
		opts.Sources = []string{*source}
	}
	entries, err := st.Query(context.Background(), opts)
	if err != nil {
		log.Fatalf("devlogd logs: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s [%s] %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Source, e.Message)
	}
}

func defaultCollectors(cfg *config.Config) []collector.Collector {
	// The full default set (file watcher, process monitor, db query,
	// http traffic, console) requires target-specific configuration
	// (paths, ports, PIDs) that has no resolved default; start/collectors
	// report the empty set until a config file loader supplies targets.
	return nil
}

func runServer(cfg *config.Config, collectors []collector.Collector) {
	st, err := store.New(cfg.Store)
	if err != nil {
		log.Fatalf("devlogd: open store: %v", err)
	}
	defer st.Close()

	an := analyzer.New(cfg.Analyzer)
	al := alerting.New(cfg.Alerting)
	srv := server.New(st, an, al, cfg.Server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mgr *collector.Manager
	if len(collectors) > 0 {
		mgr = collector.NewManager(collectors...)
		go func() {
			if err := mgr.Start(ctx); err != nil {
				log.Printf("devlogd: collector manager stopped: %v", err)
			}
		}()
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("devlogd: server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("devlogd: shutting down")

	cancel()
	if mgr != nil {
		_ = mgr.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("devlogd: server shutdown: %v", err)
	}
}
