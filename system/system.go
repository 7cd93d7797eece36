// Package system assembles a simulated machine from a Config and runs
// workloads on it.
//
// The machine has one out-of-order CPU with split L1 caches. Both L1 caches
// reach a shared L2 cache through the L2 bus, and the L2 cache reaches the
// memory controller through the memory bus. The interrupt controller
// registers also sit on the memory bus, where the CPU reaches them with
// uncached accesses.
package system

import (
	"fmt"
	"log"
	"math/bits"
	"os"

	"github.com/sarchlab/o3sim/cpu/bpred"
	"github.com/sarchlab/o3sim/cpu/o3"
	"github.com/sarchlab/o3sim/datarecording"
	"github.com/sarchlab/o3sim/interrupt"
	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/cache"
	"github.com/sarchlab/o3sim/mem/dram"
	"github.com/sarchlab/o3sim/mem/idealmemcontroller"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/mem/xbar"
	"github.com/sarchlab/o3sim/monitoring"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/simulation"
	"github.com/sarchlab/o3sim/sim/timing"
	"github.com/sarchlab/o3sim/tracing"
)

// A MemoryController is the component at the bottom of the memory system.
type MemoryController interface {
	modeling.Component
	Storage() *mem.Storage
	Quiescent() bool
}

// System is an assembled machine.
type System struct {
	cfg     Config
	engine  *timing.SerialEngine
	sim     *simulation.Simulation
	memSize uint64

	voltage      *timing.VoltageDomain
	clkDomain    *timing.ClockDomain
	cpuClkDomain *timing.ClockDomain
	memClkDomain *timing.ClockDomain

	cpu     *o3.Comp
	l1i     *cache.Comp
	l1d     *cache.Comp
	l2      *cache.Comp
	l2Bus   *xbar.Comp
	memBus  *xbar.Comp
	intCtrl *interrupt.Comp
	memCtrl MemoryController
	storage *mem.Storage
	conns   []*modeling.DirectConnection

	workloads    map[int]*isa.Program
	instantiated bool
	failure      *ExitEvent

	recorder     datarecording.DataRecorder
	execRecorder *datarecording.ExecRecorder
	tracer       *tracing.DBTracer
	monitor      *monitoring.Monitor
	eventLog     *os.File

	latency   map[string]*tracing.LatencyTracer
	memBusy   *tracing.BusyTimeTracer
	backtrace *tracing.BackTraceTracer
}

// Build assembles a system. The configuration is copied, so later changes
// to cfg do not affect the system.
func Build(cfg Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		cfg:       cfg,
		engine:    timing.NewSerialEngine(),
		sim:       simulation.NewSimulation(),
		workloads: make(map[int]*isa.Program),
	}
	s.sim.RegisterEngine(s.engine)
	s.memSize, _ = mem.ParseSize(cfg.Memory.Size)

	s.buildDomains()
	s.buildMemoryController()
	s.buildCaches()
	s.buildBuses()
	s.buildInterruptController()
	s.buildCPU()

	if err := s.connect(); err != nil {
		return nil, err
	}

	s.register()
	s.attachLatencyTracers()

	if err := s.attachTracer(); err != nil {
		return nil, err
	}

	if err := s.attachEventLog(); err != nil {
		return nil, err
	}

	s.attachMonitor()

	return s, nil
}

func (s *System) buildDomains() {
	sysFreq, _ := timing.ParseFreq(s.cfg.Clock)

	cpuFreq := sysFreq
	if s.cfg.CPU.Clock != "" {
		cpuFreq, _ = timing.ParseFreq(s.cfg.CPU.Clock)
	}

	s.voltage = &timing.VoltageDomain{Name: "System.Voltage", Voltage: 1.0}
	s.clkDomain = timing.NewClockDomain("System.ClkDomain", sysFreq, s.voltage)
	s.cpuClkDomain = timing.NewClockDomain(
		"System.CPUClkDomain", cpuFreq, s.voltage)
}

func (s *System) buildMemoryController() {
	s.storage = mem.NewNamedStorage("System.Mem", s.memSize)

	switch s.cfg.Memory.Type {
	case "dram":
		preset, _ := dram.LookupPreset(s.cfg.Memory.Preset)
		s.memClkDomain = timing.NewClockDomain(
			"System.MemCtrl.ClkDomain", preset.Freq, s.voltage)
		s.memCtrl = dram.MakeBuilder().
			WithEngine(s.engine).
			WithPreset(preset).
			WithQueueSize(s.cfg.Memory.QueueSize).
			WithStorage(s.storage).
			Build("System.MemCtrl")
		s.memClkDomain.Subscribe(s.memCtrl.Name())
	default:
		s.memCtrl = idealmemcontroller.MakeBuilder().
			WithEngine(s.engine).
			WithFreq(s.clkDomain.Freq()).
			WithLatency(s.cfg.Memory.Latency).
			WithStorage(s.storage).
			Build("System.MemCtrl")
		s.clkDomain.Subscribe(s.memCtrl.Name())
	}
}

func (s *System) buildCache(
	name string,
	c CacheConfig,
	domain *timing.ClockDomain,
) *cache.Comp {
	size, _ := mem.ParseSize(c.Size)

	comp := cache.MakeBuilder().
		WithEngine(s.engine).
		WithFreq(domain.Freq()).
		WithLog2BlockSize(bits.TrailingZeros(uint(s.cfg.BlockSize))).
		WithByteSize(size).
		WithWayAssociativity(c.Assoc).
		WithTagLatency(c.TagLatency).
		WithDataLatency(c.DataLatency).
		WithResponseLatency(c.ResponseLatency).
		WithNumMSHREntry(c.MSHRs).
		WithNumTargetsPerMSHR(c.TargetsPerMSHR).
		WithReplacementPolicy(c.Replacement).
		WithPrefetcher(c.Prefetcher).
		WithSeed(s.cfg.Seed).
		Build(name)
	domain.Subscribe(name)

	return comp
}

func (s *System) buildCaches() {
	s.l1i = s.buildCache("System.L1I", s.cfg.L1I, s.cpuClkDomain)
	s.l1d = s.buildCache("System.L1D", s.cfg.L1D, s.cpuClkDomain)
	s.l2 = s.buildCache("System.L2", s.cfg.L2, s.clkDomain)
}

func (s *System) buildBus(name string, c BusConfig, numTop int) *xbar.Comp {
	arb, _ := xbar.ParseArbitration(c.Arbitration)

	bus := xbar.MakeBuilder().
		WithEngine(s.engine).
		WithFreq(s.clkDomain.Freq()).
		WithNumTopPorts(numTop).
		WithWidth(c.Width).
		WithBufferSize(c.BufferSize).
		WithArbitration(arb).
		Build(name)
	s.clkDomain.Subscribe(name)

	return bus
}

func (s *System) buildBuses() {
	s.l2Bus = s.buildBus("System.L2Bus", s.cfg.L2Bus, 2)
	s.l2Bus.SetAddressMapper(&mem.SinglePortMapper{
		Port: s.l2.GetPortByName("Top").AsRemote(),
	})

	s.memBus = s.buildBus("System.MemBus", s.cfg.MemBus, 2)

	s.l1i.SetAddressToPortMapper(&mem.SinglePortMapper{
		Port: s.l2Bus.TopPort(0).AsRemote(),
	})
	s.l1d.SetAddressToPortMapper(&mem.SinglePortMapper{
		Port: s.l2Bus.TopPort(1).AsRemote(),
	})
	s.l2.SetAddressToPortMapper(&mem.SinglePortMapper{
		Port: s.memBus.TopPort(0).AsRemote(),
	})
}

func (s *System) buildInterruptController() {
	ic := s.cfg.Interrupt

	s.intCtrl = interrupt.MakeBuilder().
		WithEngine(s.engine).
		WithFreq(s.cpuClkDomain.Freq()).
		WithPIOBase(ic.PIOBase).
		WithVectorTable(ic.VectorBase, ic.VectorStride).
		Build("System.IntCtrl")
	s.intCtrl.SetRemote(s.intCtrl.GetPortByName("IntResponder").AsRemote())
	s.cpuClkDomain.Subscribe(s.intCtrl.Name())
}

func (s *System) pioRange() mem.AddrRange {
	return mem.AddrRange{
		Start: s.cfg.Interrupt.PIOBase,
		Size:  interrupt.PIOSize,
	}
}

func (s *System) buildCPU() {
	c := s.cfg.CPU
	policy, _ := o3.ParseFetchPolicy(c.FetchPolicy)

	s.cpu = o3.MakeBuilder().
		WithEngine(s.engine).
		WithFreq(s.cpuClkDomain.Freq()).
		WithNumThreads(c.Threads).
		WithFetchPolicy(policy).
		WithBranchPredictor(c.BranchPredictor, bpred.Config{}).
		WithWidth(c.Width).
		WithIssueWidth(c.IssueWidth).
		WithCommitWidth(c.CommitWidth).
		WithNumROBEntries(c.ROBEntries).
		WithNumIQEntries(c.IQEntries).
		WithNumLSQEntries(c.LSQEntries).
		WithStoreBufferSize(c.StoreBuffer).
		WithBlockSize(uint64(s.cfg.BlockSize)).
		WithInstMapper(&mem.SinglePortMapper{
			Port: s.l1i.GetPortByName("Top").AsRemote(),
		}).
		WithDataMapper(&mem.SinglePortMapper{
			Port: s.l1d.GetPortByName("Top").AsRemote(),
		}).
		WithUncachedRange(s.pioRange(), s.memBus.TopPort(1).AsRemote()).
		WithAddressLimit(s.memSize).
		Build("System.CPU")
	s.cpuClkDomain.Subscribe(s.cpu.Name())

	s.cpu.SetInterruptSource(s.intCtrl)
	s.intCtrl.AddListener(s.cpu)
}

// connect plugs the memory controller and the interrupt registers into the
// memory bus and then wires every pair of ports.
func (s *System) connect() error {
	memTop := s.memCtrl.GetPortByName("Top")
	pio := s.intCtrl.GetPortByName("PIO")

	mapper := &mem.RangePortMapper{}
	for _, r := range []struct {
		rng  mem.AddrRange
		port modeling.Port
	}{
		{mem.AddrRange{Start: 0, Size: s.memSize}, memTop},
		{s.pioRange(), pio},
	} {
		if err := mapper.AddRange(r.rng, r.port.AsRemote()); err != nil {
			return &ConfigurationError{
				Field: "membus",
				Err:   fmt.Errorf("%w: %v", ErrConflictingRanges, err),
			}
		}
	}

	s.memBus.SetAddressMapper(mapper)

	cpuFreq := s.cpuClkDomain.Freq()
	sysFreq := s.clkDomain.Freq()

	links := []struct {
		name string
		freq timing.Freq
		a, b modeling.Port
	}{
		{"System.ICacheConn", cpuFreq,
			s.cpu.GetPortByName("ICache"), s.l1i.GetPortByName("Top")},
		{"System.DCacheConn", cpuFreq,
			s.cpu.GetPortByName("DCache"), s.l1d.GetPortByName("Top")},
		{"System.L1IConn", sysFreq,
			s.l1i.GetPortByName("Bottom"), s.l2Bus.TopPort(0)},
		{"System.L1DConn", sysFreq,
			s.l1d.GetPortByName("Bottom"), s.l2Bus.TopPort(1)},
		{"System.L2Conn", sysFreq,
			s.l2Bus.PlugLowModule(s.l2.GetPortByName("Top").AsRemote()),
			s.l2.GetPortByName("Top")},
		{"System.L2MemBusConn", sysFreq,
			s.l2.GetPortByName("Bottom"), s.memBus.TopPort(0)},
		{"System.UncachedConn", sysFreq,
			s.cpu.GetPortByName("Uncached"), s.memBus.TopPort(1)},
		{"System.MemConn", sysFreq,
			s.memBus.PlugLowModule(memTop.AsRemote()), memTop},
		{"System.PIOConn", sysFreq,
			s.memBus.PlugLowModule(pio.AsRemote()), pio},
		{"System.IntConn", cpuFreq,
			s.intCtrl.GetPortByName("IntRequestor"),
			s.intCtrl.GetPortByName("IntResponder")},
	}

	for _, l := range links {
		conn := modeling.MakeDirectConnectionBuilder().
			WithEngine(s.engine).
			WithFreq(l.freq).
			Build(l.name)

		if err := modeling.Connect(conn, l.a, l.b); err != nil {
			return &ConfigurationError{Field: l.name, Err: err}
		}

		s.conns = append(s.conns, conn)
	}

	return nil
}

func (s *System) components() []modeling.Component {
	return []modeling.Component{
		s.cpu, s.intCtrl, s.l1i, s.l1d, s.l2Bus, s.l2, s.memBus, s.memCtrl,
	}
}

func (s *System) register() {
	for _, c := range s.components() {
		s.sim.RegisterComponent(c)
	}

	s.sim.RegisterStateHolder(s)
}

// attachLatencyTracers measures how long the memory components take to
// serve requests, and optionally keeps the unfinished tasks for a back trace.
func (s *System) attachLatencyTracers() {
	s.latency = make(map[string]*tracing.LatencyTracer)

	for _, c := range []modeling.Component{s.l1i, s.l1d, s.l2, s.memCtrl} {
		t := tracing.NewLatencyTracer(s.engine, tracing.KindIs("req_in"))
		tracing.CollectTrace(c, t)
		s.latency[c.Name()] = t
	}

	s.memBusy = tracing.NewBusyTimeTracer(s.engine, tracing.KindIs("req_in"))
	tracing.CollectTrace(s.memCtrl, s.memBusy)

	if !s.cfg.Backtrace {
		return
	}

	s.backtrace = tracing.NewBackTraceTracer(nil)
	for _, c := range s.components() {
		tracing.CollectTrace(c, s.backtrace)
	}
}

func (s *System) attachTracer() error {
	if s.cfg.TraceDB == "" {
		return nil
	}

	recorder, err := datarecording.Open(s.cfg.TraceDB)
	if err != nil {
		return &ConfigurationError{Field: "trace_db", Err: err}
	}

	s.recorder = recorder
	s.tracer = tracing.NewDBTracer(s.engine, s.recorder)

	for _, c := range s.components() {
		tracing.CollectTrace(c, s.tracer)
	}

	s.execRecorder = datarecording.NewExecRecorder(s.recorder)
	s.execRecorder.Start()
	s.execRecorder.Note("Clock", s.cfg.Clock)
	s.execRecorder.Note("Memory", s.cfg.Memory.Type+" "+s.cfg.Memory.Size)

	return nil
}

func (s *System) attachEventLog() error {
	if s.cfg.EventLog == "" {
		return nil
	}

	f, err := os.Create(s.cfg.EventLog)
	if err != nil {
		return &ConfigurationError{Field: "event_log", Err: err}
	}

	s.eventLog = f
	logger := log.New(f, "", 0)

	s.engine.AcceptHook(timing.NewEventLogger(logger))

	msgLogger := modeling.NewPortMsgLogger(logger, s.engine)
	for _, p := range s.sim.Ports() {
		p.AcceptHook(msgLogger)
	}

	return nil
}

func (s *System) attachMonitor() {
	if s.cfg.MonitorPort <= 0 {
		return
	}

	s.monitor = monitoring.NewMonitor().WithPortNumber(s.cfg.MonitorPort)
	if s.cfg.OpenBrowser {
		s.monitor.WithBrowser()
	}

	s.monitor.RegisterEngine(s.engine)

	for _, c := range s.components() {
		s.monitor.RegisterComponent(c)
	}

	s.monitor.StartServer()
}

// Config returns the configuration the system was built from.
func (s *System) Config() Config {
	return s.cfg
}

// Engine returns the event engine.
func (s *System) Engine() timing.Engine {
	return s.engine
}

// Simulation returns the registry of components and ports.
func (s *System) Simulation() *simulation.Simulation {
	return s.sim
}

// CPU returns the processor.
func (s *System) CPU() *o3.Comp {
	return s.cpu
}

// L1I returns the instruction cache.
func (s *System) L1I() *cache.Comp {
	return s.l1i
}

// L1D returns the data cache.
func (s *System) L1D() *cache.Comp {
	return s.l1d
}

// L2 returns the last level cache.
func (s *System) L2() *cache.Comp {
	return s.l2
}

// L2Bus returns the crossbar between the L1 caches and the L2 cache.
func (s *System) L2Bus() *xbar.Comp {
	return s.l2Bus
}

// MemBus returns the crossbar in front of the memory controller.
func (s *System) MemBus() *xbar.Comp {
	return s.memBus
}

// IntCtrl returns the interrupt controller.
func (s *System) IntCtrl() *interrupt.Comp {
	return s.intCtrl
}

// MemCtrl returns the memory controller.
func (s *System) MemCtrl() MemoryController {
	return s.memCtrl
}

// ClockDomains returns the clock domains of the system.
func (s *System) ClockDomains() []*timing.ClockDomain {
	domains := []*timing.ClockDomain{s.clkDomain, s.cpuClkDomain}
	if s.memClkDomain != nil {
		domains = append(domains, s.memClkDomain)
	}

	return domains
}

// Monitor returns the monitor, or nil when monitoring is off.
func (s *System) Monitor() *monitoring.Monitor {
	return s.monitor
}
