package system

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sarchlab/o3sim/cpu/o3"
	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/sim/modeling"
	"github.com/sarchlab/o3sim/sim/simulation"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Exit causes that do not come from the workload.
const (
	CauseLimitReached = "simulate() limit reached"
	CauseQueueEmpty   = "event queue empty"
)

// An ExitEvent tells why Simulate returned.
type ExitEvent struct {
	Cause string
	Tick  timing.VTime
}

func (e ExitEvent) String() string {
	return fmt.Sprintf("Exiting @ tick %d because %s", e.Tick, e.Cause)
}

// LoadWorkload writes the program image into memory and points the thread
// at its entry. Workloads must be loaded before the first Simulate, while
// the caches hold nothing for the program addresses.
func (s *System) LoadWorkload(cpu, thread int, prog *isa.Program) error {
	if cpu != 0 {
		return fmt.Errorf("the system has one CPU, no CPU %d", cpu)
	}

	if thread < 0 || thread >= s.cpu.NumThreads() {
		return fmt.Errorf("%s has no thread %d", s.cpu.Name(), thread)
	}

	for _, seg := range prog.Segments {
		if seg.End() > s.memSize {
			return fmt.Errorf("segment [0x%x, 0x%x) is outside the memory",
				seg.Addr, seg.End())
		}
	}

	if err := prog.Load(s.storage); err != nil {
		return err
	}

	s.cpu.Activate(thread, prog.Entry)
	s.workloads[thread] = prog

	return nil
}

// Workload returns the program loaded to a thread, or nil.
func (s *System) Workload(thread int) *isa.Program {
	return s.workloads[thread]
}

// Instantiate checks that the system can run. Every port must be connected,
// requests must not flow in a cycle, and at least one thread must have a
// workload.
func (s *System) Instantiate() error {
	if err := validateGraph(s.sim); err != nil {
		return err
	}

	if len(s.workloads) == 0 {
		return &ConfigurationError{Field: "workload", Err: ErrNoWorkload}
	}

	s.instantiated = true

	return nil
}

func validateGraph(sim *simulation.Simulation) error {
	if ports := sim.UnconnectedPorts(); len(ports) > 0 {
		return &ConfigurationError{
			Field: ports[0].Name(),
			Err:   fmt.Errorf("%w (%d in total)", ErrUnconnectedPort, len(ports)),
		}
	}

	return checkAcyclic(sim)
}

// checkAcyclic walks the request graph. A request flows from the component
// that owns a MemSide port to the component on the other end. Connections
// from a component to itself carry no memory requests and are ignored.
func checkAcyclic(sim *simulation.Simulation) error {
	next := make(map[string][]string)

	for _, p := range sim.Ports() {
		if p.Side() != modeling.MemSide || p.Connection() == nil {
			continue
		}

		from := p.Component().Name()

		for _, q := range p.Connection().Ports() {
			to := q.Component().Name()
			if q == p || to == from {
				continue
			}

			next[from] = append(next[from], to)
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)

	color := make(map[string]int)

	var visit func(name string) []string

	visit = func(name string) []string {
		color[name] = visiting

		for _, n := range next[name] {
			switch color[n] {
			case visiting:
				return []string{name, n}
			case unvisited:
				if path := visit(n); path != nil {
					return append([]string{name}, path...)
				}
			}
		}

		color[name] = visited

		return nil
	}

	for _, c := range sim.Components() {
		if color[c.Name()] != unvisited {
			continue
		}

		if path := visit(c.Name()); path != nil {
			return &ConfigurationError{
				Field: c.Name(),
				Err:   fmt.Errorf("%w: %v", ErrCyclicGraph, path),
			}
		}
	}

	return nil
}

// Simulate runs the system. With maxTicks of zero it runs until the
// workload exits or nothing is left to do; otherwise it also stops after
// maxTicks more ticks. Simulate can be called again to continue.
func (s *System) Simulate(maxTicks timing.VTime) (exit ExitEvent) {
	if !s.instantiated {
		log.Panic("simulate called before the system is instantiated")
	}

	if s.failure != nil {
		return *s.failure
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		f, ok := r.(*o3.Fault)
		if !ok {
			panic(r)
		}

		exit = ExitEvent{Cause: "fatal: " + f.Error(), Tick: f.Time}
		s.failure = &exit
		s.noteExit(exit)
		s.dumpBacktrace()
	}()

	s.cpu.Resume()

	limit := timing.MaxVTime
	if maxTicks > 0 {
		limit = s.engine.Now() + maxTicks
	}

	reason, err := s.run(limit, maxTicks)
	if err != nil {
		exit = ExitEvent{Cause: "fatal: " + err.Error(), Tick: s.engine.Now()}
		s.failure = &exit
		s.noteExit(exit)

		return exit
	}

	switch {
	case s.cpu.Exited():
		exit = ExitEvent{Cause: o3.ExitCause, Tick: s.cpu.ExitTime()}
	case reason == timing.StopTimeLimit:
		exit = ExitEvent{Cause: CauseLimitReached, Tick: s.engine.Now()}
	default:
		exit = ExitEvent{Cause: CauseQueueEmpty, Tick: s.engine.Now()}
	}

	s.noteExit(exit)

	return exit
}

// progressSlices is how many times a monitored run reports its progress.
const progressSlices = 100

// run runs the engine to the limit. When a monitor is attached and the run is
// bounded, the run is cut into slices so that the progress bar moves.
func (s *System) run(limit, maxTicks timing.VTime) (timing.StopReason, error) {
	if s.monitor == nil || maxTicks == 0 {
		return s.engine.RunUntil(limit)
	}

	bar := s.monitor.CreateProgressBar("Simulate", uint64(maxTicks))
	defer s.monitor.CompleteProgressBar(bar)

	start := s.engine.Now()
	step := max(maxTicks/progressSlices, 1)

	for {
		sliceEnd := min(s.engine.Now()+step, limit)

		reason, err := s.engine.RunUntil(sliceEnd)
		bar.SetFinished(uint64(s.engine.Now() - start))

		if err != nil || reason != timing.StopTimeLimit ||
			sliceEnd == limit || s.cpu.Exited() {
			return reason, err
		}
	}
}

// dumpBacktrace prints the tasks that were in flight when the run failed.
func (s *System) dumpBacktrace() {
	if s.backtrace == nil {
		return
	}

	tasks := s.backtrace.InflightTasks()
	log.Printf("%d tasks in flight", len(tasks))

	for _, t := range tasks {
		s.backtrace.DumpBackTrace(t)
	}
}

func (s *System) noteExit(exit ExitEvent) {
	if s.execRecorder == nil {
		return
	}

	s.execRecorder.Note("Exit Cause", exit.Cause)
	s.execRecorder.Note("Exit Tick", fmt.Sprint(exit.Tick))
}

// Drain stops the CPU from fetching and runs until every request in flight
// has completed. A drained system can be checkpointed. The next Simulate
// lets the CPU fetch again.
func (s *System) Drain() error {
	if s.failure != nil {
		return errors.New("cannot drain a failed system")
	}

	s.cpu.Drain()

	if _, err := s.engine.RunUntil(timing.MaxVTime); err != nil {
		return err
	}

	if name, ok := s.quiescent(); !ok {
		return fmt.Errorf("%s still has requests in flight", name)
	}

	return nil
}

type quiescer interface {
	Quiescent() bool
}

func (s *System) quiescent() (string, bool) {
	for _, c := range s.components() {
		if q, ok := c.(quiescer); ok && !q.Quiescent() {
			return c.Name(), false
		}
	}

	return "", true
}

// Checkpoint writes the state of a drained system: the current tick, the
// memory image, the cache arrays, the thread contexts, and the statistics.
func (s *System) Checkpoint(w io.Writer) error {
	if name, ok := s.quiescent(); !ok {
		return fmt.Errorf("cannot checkpoint, %s is not drained", name)
	}

	return s.sim.Save(w)
}

// Restore loads a checkpoint into a system that has not run yet. The system
// must be built from the same configuration as the one checkpointed.
func (s *System) Restore(r io.Reader) error {
	if s.engine.Now() != 0 || s.engine.PendingEvents() > 0 {
		return errors.New("restore needs a system that has not run")
	}

	if err := validateGraph(s.sim); err != nil {
		return err
	}

	if err := s.sim.Load(r); err != nil {
		return err
	}

	s.instantiated = true

	return nil
}

type systemState struct {
	Tick timing.VTime `json:"tick"`
}

// Name returns the name of the system.
func (s *System) Name() string {
	return "System"
}

// State returns the current tick.
func (s *System) State() any {
	return systemState{Tick: s.engine.Now()}
}

// SetState moves the engine to the checkpointed tick.
func (s *System) SetState(raw json.RawMessage) error {
	var st systemState
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}

	s.engine.SetTime(st.Tick)

	return nil
}

// ReadMemory returns what a load would see at the address. Dirty data in
// the data caches is newer than the memory.
func (s *System) ReadMemory(addr, size uint64) ([]byte, error) {
	if data, ok := s.l1d.FunctionalRead(addr, size); ok {
		return data, nil
	}

	if data, ok := s.l2.FunctionalRead(addr, size); ok {
		return data, nil
	}

	if addr+size > s.memSize {
		return nil, fmt.Errorf("[0x%x, 0x%x) is outside the memory",
			addr, addr+size)
	}

	return s.storage.Read(addr, size)
}

// Storage returns the backing store of the memory controller.
func (s *System) Storage() *mem.Storage {
	return s.storage
}

// Close writes the statistics and the trace to the trace database, if there
// is one.
func (s *System) Close() error {
	if s.eventLog != nil {
		if err := s.eventLog.Close(); err != nil {
			return err
		}

		s.eventLog = nil
	}

	if s.recorder == nil {
		return nil
	}

	s.tracer.Terminate()

	s.recorder.CreateTable("stats", Stat{})
	for _, st := range s.Stats() {
		s.recorder.InsertData("stats", st)
	}

	s.execRecorder.End()

	return s.recorder.Close()
}
