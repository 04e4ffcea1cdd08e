// legio is the CLI for the Legio multi-agent orchestrator.
package main

import (
	"os"

	"github.com/legio-dev/legio/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
