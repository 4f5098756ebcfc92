package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/instrument/rpc"
	"github.com/banshee-data/labsweep/internal/instrument/scpi"
	"github.com/banshee-data/labsweep/internal/instrument/sim"
	"github.com/banshee-data/labsweep/internal/monitoring"
	"github.com/banshee-data/labsweep/internal/version"
)

var (
	listen      = flag.String("listen", ":50051", "gRPC listen address")
	devMode     = flag.Bool("dev", false, "Serve the simulated lab (and fake serial ports with -scpi)")
	scpiConfig  = flag.String("scpi", "", "SCPI instrument configuration file (JSON)")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
	verbose     = flag.Bool("verbose", false, "Log every call")
)

// buildConnection assembles the local instrument layer to serve.
func buildConnection(dev bool, scpiPath string, open scpi.Opener) (*instrument.Local, error) {
	if !dev && scpiPath == "" {
		return nil, fmt.Errorf("nothing to serve: use -dev and/or -scpi")
	}
	local := instrument.NewLocal(nil)
	if dev {
		local = sim.NewDefaultLab().Local
	}
	if scpiPath != "" {
		cfg, err := scpi.LoadConfig(scpiPath)
		if err != nil {
			return nil, err
		}
		if _, err := cfg.Mount(local, open); err != nil {
			return nil, err
		}
	}
	return local, nil
}

// logCalls logs each call with its duration and status code.
func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	monitoring.Debugf("[rpc] %s %s %v", info.FullMethod, status.Code(err), time.Since(start))
	return resp, err
}

func newGRPCServer(conn instrument.Connection) *grpc.Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(logCalls))
	rpc.NewServer(conn).Register(gs)
	return gs
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	if *showVersion {
		fmt.Printf("instrument-server %s\n", version.String())
		return 0
	}
	if *listPorts {
		ports, err := scpi.ListPorts()
		if err != nil {
			log.Printf("failed to list serial ports: %v", err)
			return 1
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return 0
	}
	monitoring.SetVerbose(*verbose)

	open := scpi.OpenSerial
	if *devMode {
		open = scpi.NewMockOpener().Open
	}
	conn, err := buildConnection(*devMode, *scpiConfig, open)
	if err != nil {
		log.Printf("failed to build instrument layer: %v", err)
		return 1
	}
	defer conn.Close()

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Printf("failed to listen on %s: %v", *listen, err)
		return 1
	}
	gs := newGRPCServer(conn)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Printf("shutting down")
		gs.GracefulStop()
	}()

	log.Printf("serving %v on %s", conn.Servers(), lis.Addr())
	if err := gs.Serve(lis); err != nil {
		log.Printf("gRPC server failed: %v", err)
		return 1
	}
	return 0
}
