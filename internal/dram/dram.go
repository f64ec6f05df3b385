// Package dram is the banked DRAM main-memory model. It owns all channel
// and bank state, schedules queued requests with row-hit-prioritizing
// selection, and enforces t_CCD/t_CL/t_RCD/t_RP/t_RAS timing exactly as
// spec.md §4.3 describes. Grounded on proto/ooo/ooo.go's bitmap-scoreboard
// scheduler for the two-tier "classify, then select" shape, and on
// original_source/python/nijikawa.py's Dram class for the exact selection
// and issue-timing arithmetic.
package dram

import (
	"github.com/rs/zerolog"

	"github.com/supraxsim/oosim/internal/memref"
)

// Fixed addressing constants (spec.md §3).
const (
	OffsetBits  = 6
	RowSizeBits = 13
)

// Fixed DRAM timing constants, in DRAM command-cycles (spec.md §4.3).
const (
	tCCD = 4  // column-to-column delay
	tCL  = 11 // column access (CAS) latency
	tRCD = 11 // row-to-column (activate) delay
	tRP  = 11 // row precharge
	tRAS = 28 // minimum row-active time

	clockDiv = 4 // simulator cycles per DRAM command-cycle
)

// noOpenRow is the BankState.OpenRow sentinel meaning "no row sensed".
const noOpenRow = ^uint64(0)

// conflictState classifies a request against its bank's currently open row.
type conflictState int

const (
	stateHit conflictState = iota
	stateMiss
	stateConflict
)

func (s conflictState) String() string {
	switch s {
	case stateHit:
		return "HIT"
	case stateMiss:
		return "MISS"
	default:
		return "CONFLICT"
	}
}

// bankState is the per-bank sensed-row and timing-gate state.
type bankState struct {
	openRow           uint64 // noOpenRow if none sensed
	nextRequestCycle  uint64 // earliest cycle this bank may accept a new command
	nextConflictCycle uint64 // earliest cycle a row change is allowed (t_RAS)
}

// request decorates a memref.MemRequest with its decoded DRAM coordinates.
type request struct {
	mem     memref.MemRequest
	channel uint32
	bank    uint32
	row     uint64
}

// channelState is one DRAM channel's command queue and per-bank table.
type channelState struct {
	waiting          []request
	banks            []bankState
	nextRequestCycle uint64 // earliest cycle the channel bus may issue (t_CCD)
}

// Config configures channel/bank topology. ChannelBits/BankBits are
// pointers so an explicit 0 (a single channel, or a single bank) is
// distinguishable from "not set": nil falls back to the spec.md §6
// defaults (channel_bits=1, bank_bits=4); a non-nil pointee, including a
// pointer to 0, is used exactly as given. Use Bits to build one inline.
type Config struct {
	ChannelBits *int
	BankBits    *int
	Logger      zerolog.Logger
}

// Bits returns a pointer to n, for populating Config.ChannelBits/BankBits
// (including with an explicit 0) without needing a named intermediate
// variable at the call site.
func Bits(n int) *int {
	return &n
}

// Stats are cumulative, observability-only counters (SPEC_FULL.md's DRAM
// controller additions) — they never feed back into scheduling decisions.
type Stats struct {
	Received  uint64
	Issued    uint64
	Hits      uint64
	Misses    uint64
	Conflicts uint64
}

// Controller is the banked DRAM model. It is driven once per simulator
// cycle via Tick, but only evaluates scheduling decisions on clock-divider
// boundaries (every clockDiv cycles), per spec.md §4.3.
type Controller struct {
	channelBits int
	bankBits    int
	bankLSB     uint64
	rowLSB      uint64

	channels []channelState
	logger   zerolog.Logger
	stats    Stats
}

// NewController builds a DRAM controller with the given topology.
func NewController(cfg Config) *Controller {
	channelBits := 1
	if cfg.ChannelBits != nil {
		channelBits = *cfg.ChannelBits
	}
	bankBits := 4
	if cfg.BankBits != nil {
		bankBits = *cfg.BankBits
	}

	bankLSB := uint64(RowSizeBits + channelBits)
	numBanks := 1 << bankBits
	numChannels := 1 << channelBits

	channels := make([]channelState, numChannels)
	for i := range channels {
		channels[i].banks = make([]bankState, numBanks)
		for b := range channels[i].banks {
			channels[i].banks[b].openRow = noOpenRow
		}
	}

	return &Controller{
		channelBits: channelBits,
		bankBits:    bankBits,
		bankLSB:     bankLSB,
		rowLSB:      bankLSB + uint64(bankBits),
		channels:    channels,
		logger:      cfg.Logger,
	}
}

// Stats returns a snapshot of the controller's cumulative counters.
func (c *Controller) Stats() Stats {
	return c.stats
}

func (c *Controller) mapChannel(addr uint64) uint32 {
	mask := uint64(1)<<c.channelBits - 1
	return uint32((addr >> OffsetBits) & mask)
}

func (c *Controller) mapBank(addr uint64) uint32 {
	mask := uint64(1)<<c.bankBits - 1
	return uint32((addr >> c.bankLSB) & mask)
}

func (c *Controller) mapRow(addr uint64) uint64 {
	return addr >> c.rowLSB
}

// ReceiveMemRequest decodes addr's channel/bank/row and appends the request
// to its channel's waiting queue. Never blocks, never fails (spec.md §4.3).
func (c *Controller) ReceiveMemRequest(req memref.MemRequest) {
	r := request{
		mem:     req,
		channel: c.mapChannel(req.Addr),
		bank:    c.mapBank(req.Addr),
		row:     c.mapRow(req.Addr),
	}
	c.channels[r.channel].waiting = append(c.channels[r.channel].waiting, r)
	c.stats.Received++
}

// Tick evaluates scheduling on clock-divider boundaries: for each channel
// whose bus is free, pick at most one best candidate request and issue it.
func (c *Controller) Tick(now uint64) {
	if now%clockDiv != 0 {
		return
	}
	for i := range c.channels {
		chan_ := &c.channels[i]
		if chan_.nextRequestCycle > now {
			continue
		}
		idx, state, ok := c.selectBestRequest(chan_, now)
		if !ok {
			continue
		}
		req := chan_.waiting[idx]
		chan_.waiting = append(chan_.waiting[:idx], chan_.waiting[idx+1:]...)
		c.issue(chan_, req, state, now)
	}
}

// selectBestRequest scans chan_'s waiting queue in insertion order. A HIT
// short-circuits the scan and wins immediately. Otherwise the first
// candidate whose bank isn't busy and, if CONFLICT, isn't still inside its
// t_RAS window, becomes the provisional winner — but scanning continues in
// case a later request is a HIT, since HIT always takes priority. This
// mirrors original_source/python/nijikawa.py's Dram.best_request exactly.
func (c *Controller) selectBestRequest(chan_ *channelState, now uint64) (int, conflictState, bool) {
	bestIdx := -1
	var bestState conflictState

	for i := range chan_.waiting {
		req := &chan_.waiting[i]
		bank := &chan_.banks[req.bank]
		if bank.nextRequestCycle > now {
			continue
		}

		state := classify(bank, req.row)
		if state == stateHit {
			return i, state, true
		}

		if bestIdx < 0 {
			if state == stateConflict && bank.nextConflictCycle > now {
				continue
			}
			bestIdx = i
			bestState = state
		}
	}

	if bestIdx < 0 {
		return 0, 0, false
	}
	return bestIdx, bestState, true
}

func classify(bank *bankState, row uint64) conflictState {
	switch {
	case bank.openRow == row:
		return stateHit
	case bank.openRow == noOpenRow:
		return stateMiss
	default:
		return stateConflict
	}
}

// issue computes and applies the timing consequences of dispatching req,
// classified as state, at cycle now (spec.md §4.3 "Issue timing").
func (c *Controller) issue(chan_ *channelState, req request, state conflictState, now uint64) {
	bank := &chan_.banks[req.bank]

	after := func(componentCycles uint64) uint64 {
		return now + componentCycles*clockDiv
	}

	chan_.nextRequestCycle = after(tCCD)

	var reqDelay uint64
	if state == stateConflict {
		reqDelay += tRP
	}
	if state != stateHit {
		bank.nextConflictCycle = after(reqDelay + tRAS)
		reqDelay += tRCD
		bank.openRow = req.row
	}
	reqDelay += tCCD
	bank.nextRequestCycle = after(reqDelay)

	deliverCycle := after(reqDelay + tCL)

	c.stats.Issued++
	switch state {
	case stateHit:
		c.stats.Hits++
	case stateMiss:
		c.stats.Misses++
	case stateConflict:
		c.stats.Conflicts++
	}

	c.logger.Debug().
		Uint64("cycle", now).
		Uint32("channel", req.channel).
		Uint32("bank", req.bank).
		Uint64("row", req.row).
		Str("state", state.String()).
		Str("kind", req.mem.Kind.String()).
		Uint64("deliver_cycle", deliverCycle).
		Msg("dram: issued request")

	if req.mem.Kind == memref.Read && req.mem.Receiver != nil {
		req.mem.Receiver.ReceiveMemResponse(deliverCycle, memref.MemResponse{Addr: req.mem.Addr})
	}
}
