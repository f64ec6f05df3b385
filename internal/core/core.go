// Package core is the out-of-order superscalar core: a circular
// reorder buffer, an MSHR table coalescing concurrent read misses, and a
// min-heap of in-flight memory responses. It never parses a trace file or
// prints anything — trace supply and reporting are external collaborators
// per spec.md §1. Grounded on proto/ooo/ooo.go's scoreboard/ROB shape for
// the package layout and on original_source/python/nijikawa.py's Core
// class for the exact retire/deliver/issue arithmetic and ordering.
package core

import (
	"container/heap"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/supraxsim/oosim/internal/memref"
	"github.com/supraxsim/oosim/internal/trace"
)

// MaxCycle marks a ROB slot whose instruction is still awaiting a memory
// response — it can never satisfy "ready to retire at or before now".
const MaxCycle = uint64(math.MaxUint64)

// ErrInvariantViolation is returned when the core observes state that the
// ROB/MSHR bookkeeping guarantees should make impossible, such as a memory
// response for an address with no outstanding MSHR.
var ErrInvariantViolation = errors.New("core: invariant violation")

// MemRequester is the narrow capability the core needs from main memory.
// *dram.Controller satisfies it structurally; core never imports dram.
type MemRequester interface {
	ReceiveMemRequest(req memref.MemRequest)
}

// mshr coalesces every in-flight read to the same address into one memory
// request, fanning its response out to every waiting ROB slot.
type mshr struct {
	addr       uint64
	robIndices []int
	issued     bool
}

// timedResponse is a (delivery cycle, response) pair ordered by cycle for
// the waiting-responses min-heap.
type timedResponse struct {
	cycle uint64
	resp  memref.MemResponse
}

type responseHeap []timedResponse

func (h responseHeap) Len() int            { return len(h) }
func (h responseHeap) Less(i, j int) bool  { return h[i].cycle < h[j].cycle }
func (h responseHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *responseHeap) Push(x interface{}) { *h = append(*h, x.(timedResponse)) }
func (h *responseHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Config configures the core's superscalar width and ROB capacity.
type Config struct {
	Width   int
	ROBSize int
	Logger  zerolog.Logger
}

// Stats are cumulative, observability-only counters.
type Stats struct {
	InsnsRetired  uint64
	InsnsIssued   uint64
	ROBFullCycles uint64
	MSHRCoalesces uint64
}

// Core is the out-of-order execution engine driving one trace to
// completion against a MemRequester.
type Core struct {
	width   int
	robSize int
	logger  zerolog.Logger

	reader trace.Reader
	mem    MemRequester

	rob      []uint64
	robHead  int
	robTail  int
	robInsns int

	mshrs            map[uint64]*mshr
	waitingResponses responseHeap

	curRecord trace.Record
	exhausted bool

	stats Stats
}

// New builds a Core. It eagerly pulls the first trace record, matching
// original_source/python/nijikawa.py's Core.__init__ reading cur_mem up
// front; an immediately malformed trace is therefore reported at
// construction time rather than on the first Tick.
func New(cfg Config, reader trace.Reader, mem MemRequester) (*Core, error) {
	width := cfg.Width
	if width == 0 {
		width = 4
	}
	robSize := cfg.ROBSize
	if robSize == 0 {
		robSize = 192
	}

	c := &Core{
		width:   width,
		robSize: robSize,
		logger:  cfg.Logger,
		reader:  reader,
		mem:     mem,
		rob:     make([]uint64, robSize),
		mshrs:   make(map[uint64]*mshr),
	}

	rec, err := reader.Next()
	if errors.Is(err, trace.ErrEndOfTrace) {
		c.exhausted = true
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("core: initial trace record: %w", err)
	}
	c.curRecord = rec
	return c, nil
}

// Stats returns a snapshot of the core's cumulative counters.
func (c *Core) Stats() Stats {
	return c.stats
}

// Done reports whether the core has retired every instruction it will ever
// issue: the trace is exhausted and the ROB has drained.
func (c *Core) Done() bool {
	return c.exhausted && c.robInsns == 0
}

// ReceiveMemResponse implements memref.ResponseReceiver. It does nothing
// but push onto the waiting-responses heap — all bookkeeping happens later,
// synchronously, from Tick's own deliver phase. This mirrors the original's
// receive_mem_response, which is a bare heapq.heappush.
func (c *Core) ReceiveMemResponse(cycle uint64, resp memref.MemResponse) {
	heap.Push(&c.waitingResponses, timedResponse{cycle: cycle, resp: resp})
}

// Tick advances the core by one simulator cycle: retire, then deliver any
// memory responses due at or before now, then issue. Responses delivered
// this cycle cannot retire in the same cycle — deliverMemResponse stamps the
// ROB with now, and retire already ran for this cycle before it did.
func (c *Core) Tick(now uint64) error {
	c.tickRetire(now)
	if err := c.tickMem(now); err != nil {
		return err
	}
	return c.tickIssue(now)
}

func (c *Core) tickRetire(now uint64) {
	remaining := c.width
	for remaining > 0 && c.robInsns > 0 {
		if c.rob[c.robHead] > now {
			break
		}
		remaining--
		c.robInsns--
		c.robHead++
		if c.robHead >= c.robSize {
			c.robHead = 0
		}
		c.stats.InsnsRetired++
	}
}

func (c *Core) tickMem(now uint64) error {
	for len(c.waitingResponses) > 0 && c.waitingResponses[0].cycle <= now {
		top := heap.Pop(&c.waitingResponses).(timedResponse)
		if err := c.deliverMemResponse(now, top.resp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) deliverMemResponse(now uint64, resp memref.MemResponse) error {
	m, ok := c.mshrs[resp.Addr]
	if !ok {
		return fmt.Errorf("%w: memory response for address %#x with no outstanding MSHR", ErrInvariantViolation, resp.Addr)
	}
	for _, idx := range m.robIndices {
		c.rob[idx] = now
	}
	delete(c.mshrs, resp.Addr)
	return nil
}

func (c *Core) tickIssue(now uint64) error {
	if c.exhausted {
		return nil
	}
	if c.robInsns >= c.robSize {
		c.stats.ROBFullCycles++
		return nil
	}

	remaining := c.width
	for remaining > 0 && c.robInsns < c.robSize {
		if c.exhausted {
			break
		}

		if c.curRecord.Prec > 0 {
			c.rob[c.robTail] = now
			c.curRecord.Prec--
		} else {
			if c.curRecord.IsWrite {
				c.issueWrite(c.curRecord.Addr)
				c.rob[c.robTail] = now
			} else {
				m := c.getMSHR(c.curRecord.Addr)
				m.robIndices = append(m.robIndices, c.robTail)
				c.rob[c.robTail] = MaxCycle
				c.issueMSHR(m)
			}
			if err := c.advanceTraceRecord(); err != nil {
				return err
			}
		}

		remaining--
		c.robInsns++
		c.stats.InsnsIssued++
		c.robTail++
		if c.robTail >= c.robSize {
			c.robTail = 0
		}
	}
	return nil
}

// advanceTraceRecord pulls the next trace record. Only ErrEndOfTrace is a
// legitimate stopping condition (an Open Question spec.md §9 left to
// implementer choice, decided in DESIGN.md); any other error is
// MALFORMED-TRACE, which spec.md §7 requires to abort the run rather than
// be swallowed, so it is returned rather than just logged.
func (c *Core) advanceTraceRecord() error {
	rec, err := c.reader.Next()
	if errors.Is(err, trace.ErrEndOfTrace) {
		c.exhausted = true
		c.logger.Debug().Uint64("insns_issued", c.stats.InsnsIssued).Msg("core: trace exhausted")
		return nil
	}
	if err != nil {
		c.exhausted = true
		return fmt.Errorf("core: reading trace record: %w", err)
	}
	c.curRecord = rec
	return nil
}

func (c *Core) getMSHR(addr uint64) *mshr {
	if m, ok := c.mshrs[addr]; ok {
		c.stats.MSHRCoalesces++
		return m
	}
	m := &mshr{addr: addr}
	c.mshrs[addr] = m
	return m
}

func (c *Core) issueMSHR(m *mshr) {
	if m.issued {
		return
	}
	m.issued = true
	c.mem.ReceiveMemRequest(memref.MemRequest{Kind: memref.Read, Addr: m.addr, Receiver: c})
}

func (c *Core) issueWrite(addr uint64) {
	c.mem.ReceiveMemRequest(memref.MemRequest{Kind: memref.Write, Addr: addr})
}
