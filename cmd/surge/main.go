package main

import (
	"os"

	"github.com/wesleyorama2/surge/internal/cli"
)

// Main runs the CLI and returns the process exit code: 0 on success, 2 when
// a threshold failed, 1 on any other error.
func Main() int {
	return cli.ExitCode(cli.Execute())
}

func main() {
	os.Exit(Main())
}
