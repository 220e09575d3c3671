// Daedalus runs node graphs from the command line.
//
// Usage:
//
//	daedalus [--log-level LEVEL] [--json] <command> [flags]
//
// Commands:
//
//	run    Execute a graph file
//	plan   Print the execution plan of a graph file
//	kinds  List available node kinds
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/wehubfusion/Daedalus/internal/cli"
)

// version is set through ldflags at build time.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		code := 1
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}
