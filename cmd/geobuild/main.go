// Command geobuild is the CLI entrypoint: it loads process configuration,
// wires the shared infrastructure (store, registry, operator dispatcher,
// catalog client), and dispatches to one of the build/serve subcommands,
// the same flag.NewFlagSet-per-subcommand shape as the teacher's main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mumuon/geobuild/internal/buildconfig"
	"github.com/mumuon/geobuild/internal/buildengine"
	"github.com/mumuon/geobuild/internal/catalog"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/httpapi"
	"github.com/mumuon/geobuild/internal/operator"
	"github.com/mumuon/geobuild/internal/registry"
	"github.com/mumuon/geobuild/internal/scheduler"
	"github.com/mumuon/geobuild/internal/store"
)

func main() {
	configPath := flag.String("config", ".env", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	args := flag.Args()
	if *help || len(args) == 0 {
		showHelp()
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	command := args[0]
	switch command {
	case "build":
		cmdBuild(args[1:], configPath)
	case "serve":
		cmdServe(args[1:], configPath)
	default:
		slog.Error("unknown command", "command", command)
		showHelp()
		os.Exit(1)
	}
}

// buildEngine wires process config into a ready-to-run Engine, shared by
// the "build" and "serve" subcommands.
func buildEngine(cfg *buildconfig.Config) (*buildengine.Engine, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	layout, err := fsutil.NewLayout(cfg.Paths.BuildRoot)
	if err != nil {
		return nil, closeAll, fmt.Errorf("prepare build root: %w", err)
	}

	db, err := store.Open(store.DSN{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		slog.Warn("failed to connect to spatial database (continuing without registry tracking)", "error", err)
		db = nil
	} else {
		closers = append(closers, func() { db.Close() })
	}

	var reg *registry.Registry
	var outputLog *registry.OutputLog
	if db != nil {
		reg = registry.New(db)
		outputLog = registry.NewOutputLog(db)
	}

	var installer operator.Installer
	if cfg.S3.Bucket != "" {
		inst, err := operator.NewS3Installer(context.Background(), cfg.S3.Endpoint, cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, cfg.S3.Region, cfg.S3.Bucket)
		if err != nil {
			slog.Warn("failed to initialize S3 installer (Install operator disabled)", "error", err)
		} else {
			installer = inst
		}
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.DBName, cfg.Database.SSLMode)

	var cat catalog.Catalog
	if endpoint := os.Getenv("CATALOG_ENDPOINT"); endpoint != "" {
		cat = catalog.NewHTTPCatalog(endpoint)
	}

	engine := &buildengine.Engine{
		DB:         db,
		Registry:   reg,
		OutputLog:  outputLog,
		FS:         layout,
		Dispatcher: operator.NewDispatcher(),
		Catalog:    cat,
		Fetcher:    operator.NewHTTPFetcher(),
		Exporter:   &operator.DefaultExporter{DSN: dsn},
		Installer:  installer,
		Pools:      cfg.Pools,
	}

	return engine, closeAll, nil
}

// cmdBuild runs one build to completion: load the named configuration
// documents, explode the graph, and drive the scheduler until it succeeds,
// fails, or is cancelled (spec.md §2 data flow end to end).
func cmdBuild(args []string, configPath *string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	fs.Parse(args)

	docs := fs.Args()
	if len(docs) == 0 {
		slog.Error("at least one configuration document required")
		os.Exit(1)
	}

	cfg, err := buildconfig.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	engine, closeAll, err := buildEngine(cfg)
	defer closeAll()
	if err != nil {
		slog.Error("failed to initialize build engine", "error", err)
		os.Exit(1)
	}

	refs := make([]buildengine.DocumentRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, buildengine.DocumentRef{Ref: d})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	run, err := engine.Start(ctx, buildengine.Request{
		Documents: refs,
		OnProgress: func(s scheduler.Snapshot) {
			for _, line := range s.RecentLog {
				slog.Info(line)
			}
		},
	})
	if err != nil {
		slog.Error("failed to start build", "error", err)
		os.Exit(1)
	}

	done := make(chan scheduler.Result, 1)
	go func() { done <- run.Wait() }()

	select {
	case res := <-done:
		if !res.Succeeded {
			slog.Error("build failed", "error", res.Err, "failed_nodes", len(res.Failed))
			os.Exit(1)
		}
		slog.Info("build completed successfully")
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		run.Stop()
		res := <-done
		_ = res
		os.Exit(1)
	}
}

// cmdServe starts the control-surface HTTP server (spec.md §6.6:
// build.start, build.stop, build.nodes).
func cmdServe(args []string, configPath *string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 8080, "Port to listen on")
	fs.Parse(args)

	cfg, err := buildconfig.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	engine, closeAll, err := buildEngine(cfg)
	defer closeAll()
	if err != nil {
		slog.Error("failed to initialize build engine", "error", err)
		os.Exit(1)
	}

	server := httpapi.NewServer(engine)
	mux := http.NewServeMux()
	server.Routes(mux)

	slog.Info("starting build control server", "port", *port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- http.ListenAndServe(fmt.Sprintf(":%d", *port), mux)
	}()

	select {
	case err := <-errChan:
		slog.Error("server failed to start", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		slog.Info("received shutdown signal, stopping server", "signal", sig)
		os.Exit(0)
	}
}

func showHelp() {
	help := `geobuild - Geospatial ETL build engine

Usage:
  geobuild [global options] <command> [command options] [arguments]

Global Options:
  -config string        Path to .env configuration file (default ".env")
  -debug                Enable debug logging
  -help                 Show this help message

Commands:
  build                 Run one build to completion from one or more
                         configuration documents (local path or URL)
  serve                 Start the build control HTTP server

Build Command:
  Usage: geobuild build [options] <document> [document2] ...

Serve Command:
  Usage: geobuild serve [options]

  Options:
    -port int             Port to listen on (default 8080)

  Endpoints:
    POST /build/start      - Start a build from a set of configuration documents
    POST /build/stop       - Request cooperative cancellation of a build
    GET  /build/nodes      - Poll graph status and recent log lines
    GET  /health           - Health check

Examples:
  # Run a build from a local YAML document
  ./geobuild build washington.yaml

  # Start the control server on a custom port
  ./geobuild serve -port 3000

  # Debug mode
  ./geobuild -debug build washington.yaml
`
	fmt.Print(help)
}
