package main

import (
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/labsweep/internal/instrument"
	"github.com/banshee-data/labsweep/internal/instrument/rpc"
	"github.com/banshee-data/labsweep/internal/instrument/scpi"
	"github.com/banshee-data/labsweep/internal/instrument/sim"
)

// instruments is the connection a sweep runs against, plus the SCPI
// servers mounted on it so their admin routes can be served.
type instruments struct {
	conn instrument.Connection
	scpi []*scpi.Server
}

// connect picks the instrument layer from the flags: a remote
// instrument-server, or a local connection made of the simulated lab
// and/or SCPI instruments.
func connect(dev bool, rpcTarget string, rpcTimeout time.Duration, scpiPath string) (*instruments, error) {
	open := scpi.OpenSerial
	if dev {
		open = scpi.NewMockOpener().Open
	}
	return connectWith(dev, rpcTarget, rpcTimeout, scpiPath, open)
}

func connectWith(dev bool, rpcTarget string, rpcTimeout time.Duration, scpiPath string, open scpi.Opener) (*instruments, error) {
	if rpcTarget != "" {
		if dev || scpiPath != "" {
			return nil, fmt.Errorf("-rpc cannot be combined with -dev or -scpi")
		}
		c, err := rpc.Dial(rpcTarget)
		if err != nil {
			return nil, err
		}
		c.SetTimeout(rpcTimeout)
		log.Printf("using instrument server at %s", rpcTarget)
		return &instruments{conn: c}, nil
	}
	if !dev && scpiPath == "" {
		return nil, fmt.Errorf("no instruments: use -dev, -rpc or -scpi")
	}

	local := instrument.NewLocal(nil)
	if dev {
		local = sim.NewDefaultLab().Local
		log.Printf("using simulated lab")
	}
	inst := &instruments{conn: local}
	if scpiPath != "" {
		cfg, err := scpi.LoadConfig(scpiPath)
		if err != nil {
			return nil, err
		}
		servers, err := cfg.Mount(local, open)
		if err != nil {
			return nil, err
		}
		inst.scpi = servers
		log.Printf("mounted %d SCPI server(s) from %s", len(servers), scpiPath)
	}
	return inst, nil
}
