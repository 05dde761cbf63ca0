// cmd/hexapod/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tamzrod/hexapod/internal/actuator"
	"github.com/tamzrod/hexapod/internal/config"
	"github.com/tamzrod/hexapod/internal/mirror"
	"github.com/tamzrod/hexapod/internal/monitor"
	"github.com/tamzrod/hexapod/internal/platform"
	"github.com/tamzrod/hexapod/internal/status"
	"github.com/tamzrod/hexapod/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: hexapod <config.yaml> [home|commission]")
	}

	cfgPath := os.Args[1]
	action := ""
	if len(os.Args) > 2 {
		action = os.Args[2]
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	logger := log.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --------------------
	// Store + platform
	// --------------------

	st, err := sqlite.Open(cfg.Hexapod.Store.Path, logger)
	if err != nil {
		log.Fatalf("store open failed: %v", err)
	}
	defer st.Close()

	p, closePlatform, err := platform.Build(cfg, st, logger)
	if err != nil {
		log.Fatalf("platform build failed: %v", err)
	}
	defer closePlatform()

	if err := p.Initialize(); err != nil {
		log.Printf("platform initialize: %v", err)
	}

	// --------------------
	// Monitor -> mirror (optional)
	// --------------------

	serials := make([]string, 0, platform.Legs)
	sources := make([]monitor.Source, 0, platform.Legs)
	for i := 0; i < platform.Legs; i++ {
		serials = append(serials, p.Leg(i).Serial())
		sources = append(sources, p.Leg(i))
	}

	mon, err := monitor.New(
		monitor.Config{Interval: time.Duration(cfg.Hexapod.Monitor.IntervalMs) * time.Millisecond},
		sources...,
	)
	if err != nil {
		log.Fatalf("monitor build failed: %v", err)
	}

	mir, closeMirror, err := mirror.Build(cfg.Hexapod.Mirror, serials, logger)
	if err != nil {
		log.Fatalf("mirror build failed: %v", err)
	}
	defer closeMirror()

	out := make(chan monitor.Result)
	go mon.Run(ctx, out)

	if mir != nil {
		go mir.Run(ctx, out)
	} else {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case res := <-out:
					for _, s := range res.Samples {
						if s.State == status.StateOff || s.State == status.StateFatal {
							log.Printf("actuator %s state=%s position=%v flags=%s", s.Serial, s.State, s.Position, s.Flags)
						}
					}
				}
			}
		}()
	}

	// --------------------
	// Optional one-shot action
	// --------------------

	switch action {
	case "":
	case "home":
		if err := p.ProbeHome(ctx, actuator.Extend); err != nil {
			log.Printf("home failed: %v", err)
		}
	case "commission":
		if err := p.Commission(ctx); err != nil {
			log.Printf("commission failed: %v", err)
		}
	default:
		log.Fatalf("unknown action %q", action)
	}

	log.Printf("hexapod running (state=%s positions=%v)", p.State(), p.Positions())

	// --------------------
	// Block until signalled, then stop the legs
	// --------------------

	<-ctx.Done()
	p.EmergencyStop()
	log.Printf("hexapod stopped (state=%s)", p.State())
}
