// Command contractsync keeps a size-bounded local store of contract bytecode
// in sync with an upstream source.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/contractsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
