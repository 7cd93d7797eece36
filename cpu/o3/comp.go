// Package o3 models an out-of-order CPU core with simultaneous
// multithreading. Instructions flow through fetch, decode, dispatch, issue,
// and commit. The reorder buffer, the instruction queue, and the load-store
// queue are shared by all hardware threads.
package o3

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/o3sim/cpu/bpred"
	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/queueing"
	"github.com/sarchlab/o3sim/sim/timing"
	"github.com/sarchlab/o3sim/tracing"
)

// ExitCause is reported when every active thread has committed halt.
const ExitCause = "exiting with last active thread context"

// A Fault is the panic value of an instruction that cannot commit.
type Fault struct {
	CPU    string
	Thread int
	PC     uint64
	Time   timing.VTime
	What   string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: thread %d: %s at pc 0x%x",
		f.CPU, f.Thread, f.What, f.PC)
}

// InterruptSource is what the CPU needs from an interrupt controller.
type InterruptSource interface {
	Pending() bool
	Acknowledge() (vector int, ok bool)
	HandlerAddress(vector int) uint64
}

// Stats are the counters of a CPU.
type Stats struct {
	Cycles         uint64 `json:"cycles"`
	Committed      uint64 `json:"committed"`
	Fetches        uint64 `json:"fetches"`
	Branches       uint64 `json:"branches"`
	Mispredicts    uint64 `json:"mispredicts"`
	Squashed       uint64 `json:"squashed"`
	ROBFullCycles  uint64 `json:"rob_full_cycles"`
	IQFullCycles   uint64 `json:"iq_full_cycles"`
	Loads          uint64 `json:"loads"`
	Stores         uint64 `json:"stores"`
	ForwardedLoads uint64 `json:"forwarded_loads"`
	Interrupts     uint64 `json:"interrupts"`
}

// IPC returns the committed instructions per cycle.
func (s Stats) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}

	return float64(s.Committed) / float64(s.Cycles)
}

// MispredictRate returns the fraction of committed branches that were
// mispredicted.
func (s Stats) MispredictRate() float64 {
	if s.Branches == 0 {
		return 0
	}

	return float64(s.Mispredicts) / float64(s.Branches)
}

type storeEntry struct {
	tid  int
	pc   uint64
	addr uint64
	data uint64
	req  *mem.WriteReq
}

// Comp is an out-of-order CPU.
type Comp struct {
	*modeling.TickingComponent
	modeling.MiddlewareHolder

	iCachePort   modeling.Port
	dCachePort   modeling.Port
	uncachedPort modeling.Port

	iMapper       mem.AddressToPortMapper
	dMapper       mem.AddressToPortMapper
	uncachedRange mem.AddrRange
	uncachedDst   modeling.RemotePort
	addrLimit     uint64
	blockSize     uint64

	predictor   bpred.Predictor
	intCtrl     InterruptSource
	fetchPolicy FetchPolicy

	fetchWidth    int
	decodeWidth   int
	dispatchWidth int
	issueWidth    int
	commitWidth   int
	robSize       int
	iqSize        int
	lsqSize       int
	storeBufSize  int

	threads  []*thread
	rob      []*dynInst
	iq       []*dynInst
	lsq      []*dynInst
	storeBuf []*storeEntry

	pendingLoads  map[string]*dynInst
	pendingStores map[string]*storeEntry

	nextSeq    uint64
	fetchRR    int
	decodeRR   int
	dispatchRR int

	draining bool
	exited   bool
	exitTime timing.VTime
	stats    Stats
}

// Tick runs the pipeline stages, youngest stage last.
func (c *Comp) Tick() bool {
	return c.MiddlewareHolder.Tick()
}

// Handle processes execution completions and ticks.
func (c *Comp) Handle(e timing.Event) error {
	switch e := e.(type) {
	case *execDoneEvent:
		c.completeExec(e.inst)
		c.TickNow()
	case timing.TickEvent:
		return c.TickingComponent.Handle(e)
	default:
		log.Panicf("cannot handle event of %T", e)
	}

	return nil
}

// InterruptRaised wakes the CPU up so that commit can take the interrupt.
func (c *Comp) InterruptRaised() {
	c.TickLater()
}

// Predictor returns the branch predictor of the CPU.
func (c *Comp) Predictor() bpred.Predictor {
	return c.predictor
}

// SetInterruptSource connects the CPU to an interrupt controller. Only
// thread 0 takes interrupts.
func (c *Comp) SetInterruptSource(src InterruptSource) {
	c.intCtrl = src
}

// NumThreads returns the number of hardware threads.
func (c *Comp) NumThreads() int {
	return len(c.threads)
}

// Activate makes a thread start fetching at pc.
func (c *Comp) Activate(tid int, pc uint64) {
	c.LoadContext(tid, ThreadContext{Active: true, PC: pc})
}

// LoadContext replaces the architectural state of a thread. The thread must
// not have instructions in flight.
func (c *Comp) LoadContext(tid int, ctx ThreadContext) {
	t := c.thread(tid)
	if t.inflight > 0 {
		log.Panicf("%s: thread %d has instructions in flight", c.Name(), tid)
	}

	t.load(ctx)
	c.exited = false
}

// Context returns the architectural state of a thread.
func (c *Comp) Context(tid int) ThreadContext {
	return c.thread(tid).ctx
}

func (c *Comp) thread(tid int) *thread {
	if tid < 0 || tid >= len(c.threads) {
		log.Panicf("%s has no thread %d", c.Name(), tid)
	}

	return c.threads[tid]
}

// Start makes the CPU begin ticking.
func (c *Comp) Start() {
	c.TickLater()
}

// Exited tells if every active thread has halted.
func (c *Comp) Exited() bool {
	return c.exited
}

// ExitTime returns when the last active thread halted.
func (c *Comp) ExitTime() timing.VTime {
	return c.exitTime
}

// Drain stops fetching so that the CPU empties its pipeline.
func (c *Comp) Drain() {
	c.draining = true
}

// Resume lets a drained CPU fetch again.
func (c *Comp) Resume() {
	c.draining = false
	c.TickLater()
}

// Quiescent tells if no instruction or memory access is in flight.
func (c *Comp) Quiescent() bool {
	if len(c.rob) > 0 || len(c.storeBuf) > 0 || len(c.pendingLoads) > 0 {
		return false
	}

	for _, t := range c.threads {
		if t.fetchReq != nil || t.fetchQ.Size() > 0 || t.decodeQ.Size() > 0 {
			return false
		}
	}

	return true
}

// Buffers returns the per-thread fetch and decode queues.
func (c *Comp) Buffers() []queueing.Buffer {
	out := make([]queueing.Buffer, 0, 2*len(c.threads))
	for _, t := range c.threads {
		out = append(out, t.fetchQ, t.decodeQ)
	}

	return out
}

// Stats returns the counters of the CPU.
func (c *Comp) Stats() Stats {
	s := c.stats

	end := c.CurrentTime()
	if c.exited {
		end = c.exitTime
	}

	s.Cycles = c.Freq.Cycle(end)

	return s
}

func (c *Comp) completeExec(d *dynInst) {
	d.evt = nil

	switch {
	case d.inst.IsLoad():
		if c.badAddress(d.out.Addr) {
			d.fault = true
			d.state = stateDone

			return
		}

		d.state = stateMemory
	case d.inst.IsStore():
		d.fault = c.badAddress(d.out.Addr)
		d.state = stateDone
	default:
		d.result = d.out.Value
		d.state = stateDone

		if d.inst.IsBranch() && d.out.NextPC != d.predNext {
			d.mispredicted = true
			c.squashAfter(c.threads[d.tid], d.seq+1, d.out.NextPC)
		}
	}
}

func (c *Comp) badAddress(addr uint64) bool {
	if c.uncachedRange.Size > 0 && c.uncachedRange.Contains(addr) {
		return addr%8 != 0
	}

	if addr%8 != 0 {
		return true
	}

	return c.addrLimit > 0 && addr+8 > c.addrLimit
}

// squashAfter removes every instruction of the thread with a sequence
// number no smaller than seq and restarts fetch at pc.
func (c *Comp) squashAfter(t *thread, seq uint64, pc uint64) {
	younger := func(d *dynInst) bool {
		return d.tid == t.id && d.seq >= seq
	}

	n := 0
	keep := c.rob[:0]

	for _, d := range c.rob {
		if !younger(d) {
			keep = append(keep, d)
			continue
		}

		c.kill(d)
		t.inflight--
		n++
	}

	c.rob = keep
	c.iq = removeInsts(c.iq, younger)
	c.lsq = removeInsts(c.lsq, younger)

	n += t.decodeQ.Size()
	t.decodeQ.Clear()
	n += t.redirect(pc)

	t.rename = [isa.NumRegs]*dynInst{}

	for _, d := range c.rob {
		if d.tid == t.id && !d.illegal && d.inst.WritesRd() {
			t.rename[d.inst.Rd] = d
		}
	}

	c.stats.Squashed += uint64(n)
}

func (c *Comp) kill(d *dynInst) {
	d.squashed = true

	if d.evt != nil {
		err := c.Engine.Cancel(d.evt)
		if err != nil && !errors.Is(err, timing.ErrEventNotPending) {
			panic(err)
		}

		d.evt = nil
	}

	if d.loadReq != nil {
		tracing.TraceReqFinalize(d.loadReq, c)
		delete(c.pendingLoads, d.loadReq.ID)
		d.loadReq = nil
	}
}

func removeInsts(list []*dynInst, drop func(*dynInst) bool) []*dynInst {
	keep := list[:0]

	for _, d := range list {
		if !drop(d) {
			keep = append(keep, d)
		}
	}

	for i := len(keep); i < len(list); i++ {
		list[i] = nil
	}

	return keep
}

type cpuState struct {
	Threads []ThreadContext `json:"threads"`
	Stats   Stats           `json:"stats"`
	Exited  bool            `json:"exited"`
}

// State returns the thread contexts and counters. The CPU must be
// quiescent.
func (c *Comp) State() any {
	if !c.Quiescent() {
		log.Panicf("%s is not quiescent", c.Name())
	}

	s := cpuState{Stats: c.stats, Exited: c.exited}
	for _, t := range c.threads {
		s.Threads = append(s.Threads, t.ctx)
	}

	return s
}

// SetState restores the thread contexts and counters.
func (c *Comp) SetState(raw json.RawMessage) error {
	var s cpuState
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}

	if len(s.Threads) != len(c.threads) {
		return fmt.Errorf("%s: checkpoint has %d threads, CPU has %d",
			c.Name(), len(s.Threads), len(c.threads))
	}

	if !c.Quiescent() {
		return fmt.Errorf("%s is not quiescent", c.Name())
	}

	for i, ctx := range s.Threads {
		c.threads[i].load(ctx)
	}

	c.stats = s.Stats
	c.exited = s.Exited

	return nil
}
