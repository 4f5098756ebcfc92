package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/labsweep/internal/api"
	"github.com/banshee-data/labsweep/internal/config"
	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/db"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/sweep"
	"github.com/banshee-data/labsweep/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Sweep configuration file (JSON)")
	dbPath      = flag.String("db", "sweeps.db", "SQLite dataset vault; empty keeps datasets in memory")
	listen      = flag.String("listen", "", "Serve sweep status and charts on this address (e.g. :8080)")
	tick        = flag.Duration("tick", 0, "Driver tick; zero uses the config's tick")
	devMode     = flag.Bool("dev", false, "Use the simulated lab (and fake serial ports with -scpi)")
	rpcTarget   = flag.String("rpc", "", "gRPC address of an instrument-server")
	rpcTimeout  = flag.Duration("rpc-timeout", 10*time.Second, "Per-call timeout for -rpc")
	scpiConfig  = flag.String("scpi", "", "SCPI instrument configuration file (JSON)")
	plotPath    = flag.String("plot", "", "Write a PNG plot of the finished sweep")
	htmlPath    = flag.String("html", "", "Write an interactive HTML chart of the finished sweep")
	csvPath     = flag.String("csv", "", "Write the finished dataset as CSV")
	showVersion = flag.Bool("version", false, "Print version and exit")
	verbose     = flag.Bool("verbose", false, "Log per-tick engine activity")
)

func usage() {
	fmt.Fprintf(os.Stderr, `sweeper - multi-dimensional instrument sweeps

Usage:
  sweeper [flags]              run the sweep described by -config
  sweeper [flags] migrate ...  manage the dataset vault schema (see "migrate help")

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *showVersion {
		fmt.Printf("sweeper %s\n", version.String())
		return 0
	}
	monitoring.SetVerbose(*verbose)

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if *dbPath == "" {
				log.Print("migrate needs -db")
				return 1
			}
			if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
				log.Printf("migrate: %v", err)
				return 1
			}
			return 0
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
			usage()
			return 1
		}
	}

	cfg, err := config.LoadSweepConfig(*configPath)
	if err != nil {
		log.Printf("failed to load sweep config: %v", err)
		return 1
	}

	inst, err := connect(*devMode, *rpcTarget, *rpcTimeout, *scpiConfig)
	if err != nil {
		log.Printf("failed to connect to instruments: %v", err)
		return 1
	}

	var vaultDB *db.DB
	var vault dataset.Vault
	var memory *dataset.MemoryVault
	if *dbPath != "" {
		vaultDB, err = db.NewDB(*dbPath)
		if err != nil {
			inst.conn.Close()
			log.Printf("failed to open dataset vault: %v", err)
			return 1
		}
		defer vaultDB.Close()
		vault = vaultDB
	} else {
		memory = dataset.NewMemoryVault()
		vault = memory
	}

	e, err := sweep.NewEngineFromConfig(cfg, inst.conn, vault, nil)
	if err != nil {
		log.Printf("failed to set up sweep: %v", err)
		return 1
	}

	period := *tick
	if period <= 0 {
		period = cfg.GetTick()
	}

	board := api.NewBoard(0)
	var recorder *runRecorder
	if vaultDB != nil {
		recorder = newRunRecorder(vaultDB)
	}
	observe := func(st sweep.Status) {
		board.Update(st)
		if recorder != nil {
			recorder.Observe(st)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server *http.Server
	if *listen != "" {
		mux := api.NewServer(board, vaultDB).ServeMux()
		if vaultDB != nil {
			if err := vaultDB.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach vault admin routes: %v", err)
			}
		}
		for _, s := range inst.scpi {
			s.AttachAdminRoutes(mux)
		}
		server = &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("serving sweep status on %s", *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server failed: %v", err)
			}
		}()
	}

	log.Printf("running sweep %s (%d steps, tick %v)", e.RunID(), e.TotalSteps()+1, period)
	runErr := sweep.Run(ctx, e, nil, period, observe)
	if closeErr := e.Close(); closeErr != nil {
		log.Printf("closing sweep: %v", closeErr)
	}
	observe(e.Status())

	switch {
	case runErr == nil:
		log.Printf("sweep %s complete: %d rows", e.RunID(), e.Rows())
	case errors.Is(runErr, context.Canceled):
		log.Printf("sweep %s interrupted after %d rows", e.RunID(), e.Rows())
	default:
		log.Printf("sweep %s failed: %v", e.RunID(), runErr)
	}

	if err := writeOutputs(e, vaultDB, memory, outputs{csv: *csvPath, png: *plotPath, html: *htmlPath}); err != nil {
		log.Printf("failed to write outputs: %v", err)
	}

	if server != nil {
		if runErr == nil {
			log.Printf("sweep finished; still serving on %s until interrupted", *listen)
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shut down HTTP server: %v", err)
		}
		wg.Wait()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	return 0
}
