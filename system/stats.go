package system

import (
	"github.com/fatih/structs"

	"github.com/sarchlab/o3sim/mem/cache"
	"github.com/sarchlab/o3sim/mem/dram"
	"github.com/sarchlab/o3sim/mem/idealmemcontroller"
	"github.com/sarchlab/o3sim/sim/modeling"
)

// A Stat is one statistic of one component.
type Stat struct {
	Component string
	Name      string
	Value     float64
}

// Stats lists the counters of every component, followed by the rates
// derived from them.
func (s *System) Stats() []Stat {
	var out []Stat

	add := func(comp string, counters any) {
		for _, f := range structs.New(counters).Fields() {
			if v, ok := asFloat(f.Value()); ok {
				out = append(out, Stat{comp, f.Name(), v})
			}
		}
	}

	cpu := s.cpu.Stats()
	add(s.cpu.Name(), cpu)
	out = append(out,
		Stat{s.cpu.Name(), "IPC", cpu.IPC()},
		Stat{s.cpu.Name(), "MispredictRate", cpu.MispredictRate()})

	for _, c := range []*cache.Comp{s.l1i, s.l1d, s.l2} {
		st := c.Stats()
		add(c.Name(), st)
		out = append(out, Stat{c.Name(), "HitRate", st.HitRate()})
	}

	add(s.l2Bus.Name(), s.l2Bus.Stats())
	add(s.memBus.Name(), s.memBus.Stats())
	add(s.intCtrl.Name(), s.intCtrl.Stats())

	switch mc := s.memCtrl.(type) {
	case *dram.Comp:
		st := mc.Stats()
		add(mc.Name(), st)
		out = append(out, Stat{mc.Name(), "RowHitRate", st.RowHitRate()})
	case *idealmemcontroller.Comp:
		add(mc.Name(), mc.Stats())
	}

	for _, c := range []modeling.Component{s.l1i, s.l1d, s.l2, s.memCtrl} {
		t := s.latency[c.Name()]
		out = append(out,
			Stat{c.Name(), "AvgLatency", t.AverageTime()},
			Stat{c.Name(), "MaxLatency", float64(t.MaxTime())})
	}

	out = append(out, Stat{s.memCtrl.Name(), "BusyTime", float64(s.memBusy.BusyTime())})

	return out
}

// Lookup returns the value of a statistic.
func Lookup(stats []Stat, component, name string) (float64, bool) {
	for _, st := range stats {
		if st.Component == component && st.Name == name {
			return st.Value, true
		}
	}

	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case uint64:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}

	return 0, false
}
