// Command bridgectl inspects and operates a logistics bridge deployment.
package main

import (
	"os"

	"github.com/telhawk-systems/logistics-bridge/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
