package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sarchlab/o3sim/isa"
	"github.com/sarchlab/o3sim/mem/mem"
)

var (
	asmExecute  bool
	asmMaxSteps uint64
	asmMemSize  string
)

var asmCmd = &cobra.Command{
	Use:   "asm PROGRAM.s",
	Short: "Assemble a program and list its segments and symbols.",
	Long: "Assemble a program and list its segments and symbols. With " +
		"--execute, the program also runs on the functional reference " +
		"machine, which has no timing.",
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		prog, err := assembleFile(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("entry 0x%x, %d bytes\n", prog.Entry, prog.Size())

		for _, seg := range prog.Segments {
			fmt.Printf("segment [0x%x, 0x%x)\n", seg.Addr, seg.End())
		}

		names := make([]string, 0, len(prog.Symbols))
		for name := range prog.Symbols {
			names = append(names, name)
		}

		sort.Slice(names, func(i, j int) bool {
			return prog.Symbols[names[i]] < prog.Symbols[names[j]]
		})

		for _, name := range names {
			fmt.Printf("  0x%08x %s\n", prog.Symbols[name], name)
		}

		if !asmExecute {
			return nil
		}

		return execute(prog)
	},
}

func execute(prog *isa.Program) error {
	size, err := mem.ParseSize(asmMemSize)
	if err != nil {
		return err
	}

	m := &isa.Machine{PC: prog.Entry, Mem: mem.NewStorage(size)}
	if err := prog.Load(m.Mem); err != nil {
		return err
	}

	if err := m.Run(asmMaxSteps); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "halted at pc 0x%x after %d instructions\n",
		m.PC, m.Retired)

	for i, r := range m.Regs {
		if r != 0 {
			fmt.Printf("  r%-2d = %d (0x%x)\n", i, r, r)
		}
	}

	return nil
}

func init() {
	asmCmd.Flags().BoolVar(&asmExecute, "execute", false,
		"run the program on the reference machine")
	asmCmd.Flags().Uint64Var(&asmMaxSteps, "max-steps", 100_000_000,
		"give up after this many instructions")
	asmCmd.Flags().StringVar(&asmMemSize, "mem-size", "64MB",
		"memory size of the reference machine")
	rootCmd.AddCommand(asmCmd)
}
