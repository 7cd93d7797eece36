// Command o3sim simulates a workload on an out-of-order CPU with a cache
// hierarchy and a memory controller.
package main

import "github.com/sarchlab/o3sim/cmd/o3sim/cmd"

func main() {
	cmd.Execute()
}
