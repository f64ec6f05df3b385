// Package sim wires the clock, trace source, DRAM controller and
// out-of-order core into the driver loop from spec.md §4.5. It is the only
// package that knows about all four at once; dram and core never import
// each other.
package sim

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/supraxsim/oosim/internal/clock"
	"github.com/supraxsim/oosim/internal/core"
	"github.com/supraxsim/oosim/internal/dram"
	"github.com/supraxsim/oosim/internal/trace"
)

// Config is everything the driver loop needs to run one simulation.
// ChannelBits/BankBits follow dram.Config's nil-means-default convention
// (see dram.Bits) so an explicit 0 topology is reachable through this
// struct and through cmd/oosim's flags, not silently coerced to the
// defaults.
type Config struct {
	Cycles      uint64
	ChannelBits *int
	BankBits    *int
	Width       int
	ROBSize     int
	Logger      zerolog.Logger
}

// Result is what a completed run reports.
type Result struct {
	InsnsRetired uint64
	Cycles       uint64
	CoreStats    core.Stats
	DramStats    dram.Stats
}

// Run drives reader against mem (or, when mem is nil, a freshly built DRAM
// controller) and a freshly built core for cfg.Cycles simulator cycles, per
// spec.md §4.5:
//
//	while clock.now() < cycles:
//	    core.tick(); dram.tick(); clock.tick()
//
// The loop still runs to cfg.Cycles even if the core finishes early
// (core.Done()) — matching the original, which never special-cases an
// exhausted trace — but Run stops calling core.Tick once the core reports
// Done, since a Done core has nothing left to retire, deliver or issue.
func Run(cfg Config, reader trace.Reader, mem *dram.Controller) (Result, error) {
	if mem == nil {
		mem = dram.NewController(dram.Config{ChannelBits: cfg.ChannelBits, BankBits: cfg.BankBits, Logger: cfg.Logger})
	}

	c, err := core.New(core.Config{Width: cfg.Width, ROBSize: cfg.ROBSize, Logger: cfg.Logger}, reader, mem)
	if err != nil {
		return Result{}, fmt.Errorf("sim: building core: %w", err)
	}

	clk := clock.New()
	for clk.Now() < cfg.Cycles {
		if !c.Done() {
			if err := c.Tick(clk.Now()); err != nil {
				return Result{}, fmt.Errorf("sim: cycle %d: %w", clk.Now(), err)
			}
		}
		mem.Tick(clk.Now())
		clk.Tick()
	}

	return Result{
		InsnsRetired: c.Stats().InsnsRetired,
		Cycles:       cfg.Cycles,
		CoreStats:    c.Stats(),
		DramStats:    mem.Stats(),
	}, nil
}

// RunFile is the cmd/oosim entry point's convenience wrapper: it opens
// tracePath as a trace.FileReader and builds a fresh DRAM controller.
func RunFile(cfg Config, tracePath string) (Result, error) {
	reader, err := trace.NewFileReader(tracePath)
	if err != nil {
		return Result{}, fmt.Errorf("sim: %w", err)
	}
	defer reader.Close()

	mem := dram.NewController(dram.Config{ChannelBits: cfg.ChannelBits, BankBits: cfg.BankBits, Logger: cfg.Logger})
	return Run(cfg, reader, mem)
}
