package system

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/o3sim/cpu/bpred"
	"github.com/sarchlab/o3sim/cpu/o3"
	"github.com/sarchlab/o3sim/interrupt"
	"github.com/sarchlab/o3sim/mem/cache/prefetch"
	"github.com/sarchlab/o3sim/mem/cache/replacement"
	"github.com/sarchlab/o3sim/mem/dram"
	"github.com/sarchlab/o3sim/mem/mem"
	"github.com/sarchlab/o3sim/mem/xbar"
	"github.com/sarchlab/o3sim/sim/timing"
)

// Environment variables that override the configuration.
const (
	EnvMaxTicks    = "O3SIM_MAX_TICKS"
	EnvTraceDB     = "O3SIM_TRACE_DB"
	EnvMonitorPort = "O3SIM_MONITOR_PORT"
	EnvSeed        = "O3SIM_SEED"
)

// Config describes the system to assemble.
type Config struct {
	// Clock is the frequency of the system clock domain. The L2 and the
	// crossbars run on it.
	Clock string `yaml:"clock"`

	CPU       CPUConfig       `yaml:"cpu"`
	L1I       CacheConfig     `yaml:"l1i"`
	L1D       CacheConfig     `yaml:"l1d"`
	L2        CacheConfig     `yaml:"l2"`
	L2Bus     BusConfig       `yaml:"l2bus"`
	MemBus    BusConfig       `yaml:"membus"`
	Memory    MemoryConfig    `yaml:"memory"`
	Interrupt InterruptConfig `yaml:"interrupt"`

	BlockSize int `yaml:"block_size"`

	MaxTicks    uint64 `yaml:"max_ticks"`
	MonitorPort int    `yaml:"monitor_port"`
	OpenBrowser bool   `yaml:"open_browser"`
	Seed        int64  `yaml:"seed"`

	// TraceDB is a SQLite path without extension or a clickhouse:// DSN.
	TraceDB string `yaml:"trace_db"`

	// EventLog is a file that receives every dispatched event and every
	// message sent or received by a port.
	EventLog string `yaml:"event_log"`

	// Backtrace keeps the unfinished tasks of every component and prints
	// them when a run ends on a fault.
	Backtrace bool `yaml:"backtrace"`
}

// CPUConfig describes the out-of-order CPU.
type CPUConfig struct {
	// Clock defaults to the system clock when empty.
	Clock           string `yaml:"clock"`
	Threads         int    `yaml:"threads"`
	FetchPolicy     string `yaml:"fetch_policy"`
	BranchPredictor string `yaml:"branch_predictor"`
	Width           int    `yaml:"width"`
	IssueWidth      int    `yaml:"issue_width"`
	CommitWidth     int    `yaml:"commit_width"`
	ROBEntries      int    `yaml:"rob_entries"`
	IQEntries       int    `yaml:"iq_entries"`
	LSQEntries      int    `yaml:"lsq_entries"`
	StoreBuffer     int    `yaml:"store_buffer"`
}

// CacheConfig describes one cache.
type CacheConfig struct {
	Size            string `yaml:"size"`
	Assoc           int    `yaml:"assoc"`
	TagLatency      int    `yaml:"tag_latency"`
	DataLatency     int    `yaml:"data_latency"`
	ResponseLatency int    `yaml:"response_latency"`
	MSHRs           int    `yaml:"mshrs"`
	TargetsPerMSHR  int    `yaml:"tgts_per_mshr"`
	Replacement     string `yaml:"replacement"`
	Prefetcher      string `yaml:"prefetcher"`
}

// BusConfig describes a crossbar.
type BusConfig struct {
	Width       int    `yaml:"width"`
	Arbitration string `yaml:"arbitration"`
	BufferSize  int    `yaml:"buffer_size"`
}

// MemoryConfig describes the memory controller.
type MemoryConfig struct {
	// Type is "dram" or "ideal".
	Type   string `yaml:"type"`
	Size   string `yaml:"size"`
	Preset string `yaml:"preset"`

	// Latency is the access latency of the ideal controller in cycles of the
	// system clock.
	Latency   int `yaml:"latency"`
	QueueSize int `yaml:"queue_size"`
}

// InterruptConfig places the interrupt controller registers and the handler
// table.
type InterruptConfig struct {
	PIOBase      uint64 `yaml:"pio_base"`
	VectorBase   uint64 `yaml:"vector_base"`
	VectorStride uint64 `yaml:"vector_stride"`
}

// DefaultConfig returns a single-core system with split 32kB L1 caches, a
// 256kB L2 cache, and DDR3-1600 memory, all clocked at 3GHz.
func DefaultConfig() Config {
	l1 := CacheConfig{
		Size:            "32kB",
		Assoc:           4,
		TagLatency:      3,
		DataLatency:     3,
		ResponseLatency: 3,
		MSHRs:           32,
		TargetsPerMSHR:  16,
		Replacement:     "lru",
		Prefetcher:      "none",
	}

	return Config{
		Clock: "3GHz",
		CPU: CPUConfig{
			Threads:         1,
			FetchPolicy:     "roundrobin",
			BranchPredictor: "tage",
			Width:           8,
			IssueWidth:      8,
			CommitWidth:     8,
			ROBEntries:      192,
			IQEntries:       64,
			LSQEntries:      64,
			StoreBuffer:     16,
		},
		L1I: l1,
		L1D: l1,
		L2: CacheConfig{
			Size:            "256kB",
			Assoc:           16,
			TagLatency:      9,
			DataLatency:     9,
			ResponseLatency: 9,
			MSHRs:           32,
			TargetsPerMSHR:  16,
			Replacement:     "lru2",
			Prefetcher:      "bop",
		},
		L2Bus:  BusConfig{Width: 2, Arbitration: "roundrobin", BufferSize: 16},
		MemBus: BusConfig{Width: 2, Arbitration: "roundrobin", BufferSize: 16},
		Memory: MemoryConfig{
			Type:      "dram",
			Size:      "4GB",
			Preset:    "DDR3_1600_8x8",
			Latency:   100,
			QueueSize: 32,
		},
		Interrupt: InterruptConfig{
			PIOBase:      0x1_0000_0000,
			VectorBase:   0x1_0000,
			VectorStride: 0x100,
		},
		BlockSize: 64,
	}
}

// LoadConfig reads a YAML configuration. Fields missing from the input keep
// their default values.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, &ConfigurationError{Field: "yaml", Err: err}
	}

	return cfg, nil
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	return LoadConfig(f)
}

// ApplyEnv loads the .env file if there is one and applies the environment
// overrides.
func (c *Config) ApplyEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if v, ok := os.LookupEnv(EnvMaxTicks); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return &ConfigurationError{Field: EnvMaxTicks, Err: err}
		}

		c.MaxTicks = n
	}

	if v, ok := os.LookupEnv(EnvTraceDB); ok {
		c.TraceDB = v
	}

	if v, ok := os.LookupEnv(EnvMonitorPort); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &ConfigurationError{Field: EnvMonitorPort, Err: err}
		}

		c.MonitorPort = n
	}

	if v, ok := os.LookupEnv(EnvSeed); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return &ConfigurationError{Field: EnvSeed, Err: err}
		}

		c.Seed = n
	}

	return nil
}

// WriteYAML writes the configuration in the format LoadConfig reads.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(c); err != nil {
		return err
	}

	return enc.Close()
}

// Validate reports every field that cannot form a system.
func (c Config) Validate() error {
	var errs []error

	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, &ConfigurationError{Field: field, Err: err})
		}
	}

	_, err := timing.ParseFreq(c.Clock)
	check("clock", err)

	if c.CPU.Clock != "" {
		_, err = timing.ParseFreq(c.CPU.Clock)
		check("cpu.clock", err)
	}

	check("cpu", c.CPU.validate())
	check("block_size", validateBlockSize(c.BlockSize))

	for _, cc := range []struct {
		name string
		cfg  CacheConfig
	}{{"l1i", c.L1I}, {"l1d", c.L1D}, {"l2", c.L2}} {
		check(cc.name, cc.cfg.validate(c.BlockSize, c.Seed))
	}

	check("l2bus", c.L2Bus.validate())
	check("membus", c.MemBus.validate())
	check("memory", c.Memory.validate())
	check("interrupt", c.validateInterrupt())

	return errors.Join(errs...)
}

func (c CPUConfig) validate() error {
	if _, err := o3.ParseFetchPolicy(c.FetchPolicy); err != nil {
		return err
	}

	if _, err := bpred.New(c.BranchPredictor, bpred.Config{}); err != nil {
		return err
	}

	for name, n := range map[string]int{
		"threads":      c.Threads,
		"width":        c.Width,
		"issue_width":  c.IssueWidth,
		"commit_width": c.CommitWidth,
		"rob_entries":  c.ROBEntries,
		"iq_entries":   c.IQEntries,
		"lsq_entries":  c.LSQEntries,
		"store_buffer": c.StoreBuffer,
	} {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}

	if c.IQEntries > c.ROBEntries {
		return fmt.Errorf("iq_entries %d exceeds rob_entries %d",
			c.IQEntries, c.ROBEntries)
	}

	return nil
}

func validateBlockSize(n int) error {
	if n < 8 || n&(n-1) != 0 {
		return fmt.Errorf("block size %d is not a power of two of at least 8", n)
	}

	return nil
}

func (c CacheConfig) validate(blockSize int, seed int64) error {
	size, err := mem.ParseSize(c.Size)
	if err != nil {
		return err
	}

	if c.Assoc <= 0 || blockSize <= 0 {
		return fmt.Errorf("assoc must be positive")
	}

	setBytes := uint64(blockSize * c.Assoc)
	if size%setBytes != 0 {
		return fmt.Errorf("size %s is not a whole number of %d-way sets",
			c.Size, c.Assoc)
	}

	if sets := size / setBytes; sets&(sets-1) != 0 {
		return fmt.Errorf("%s with %d ways gives %d sets, not a power of two",
			c.Size, c.Assoc, sets)
	}

	if c.TagLatency < 0 || c.DataLatency < 0 || c.ResponseLatency < 0 {
		return fmt.Errorf("latencies must not be negative")
	}

	if c.MSHRs <= 0 || c.TargetsPerMSHR <= 0 {
		return fmt.Errorf("mshrs and tgts_per_mshr must be positive")
	}

	if _, err := replacement.ByName(c.Replacement, seed); err != nil {
		return err
	}

	if _, err := prefetch.ByName(c.Prefetcher, blockSize); err != nil {
		return err
	}

	return nil
}

func (c BusConfig) validate() error {
	if c.Width <= 0 || c.BufferSize <= 0 {
		return fmt.Errorf("width and buffer_size must be positive")
	}

	_, err := xbar.ParseArbitration(c.Arbitration)

	return err
}

func (c MemoryConfig) validate() error {
	size, err := mem.ParseSize(c.Size)
	if err != nil {
		return err
	}

	if size == 0 {
		return fmt.Errorf("memory size must be positive")
	}

	switch c.Type {
	case "dram":
		if _, err := dram.LookupPreset(c.Preset); err != nil {
			return err
		}

		if c.QueueSize <= 0 {
			return fmt.Errorf("queue_size must be positive")
		}
	case "ideal":
		if c.Latency <= 0 {
			return fmt.Errorf("latency must be positive")
		}
	default:
		return fmt.Errorf("unknown memory type %q, want dram or ideal", c.Type)
	}

	return nil
}

func (c Config) validateInterrupt() error {
	size, err := mem.ParseSize(c.Memory.Size)
	if err != nil {
		return nil
	}

	if c.Interrupt.PIOBase%8 != 0 {
		return fmt.Errorf("pio_base 0x%x is not 8-byte aligned",
			c.Interrupt.PIOBase)
	}

	pio := mem.AddrRange{Start: c.Interrupt.PIOBase, Size: interrupt.PIOSize}
	memory := mem.AddrRange{Start: 0, Size: size}

	if pio.Overlaps(memory) {
		return fmt.Errorf("%w: register window %s overlaps memory %s",
			ErrConflictingRanges, pio, memory)
	}

	if c.Interrupt.VectorStride == 0 {
		return fmt.Errorf("vector_stride must be positive")
	}

	return nil
}
