package main

import (
	"os"

	"github.com/wehubfusion/Arachne/internal/cli"
	"github.com/wehubfusion/Arachne/pkg/concurrency"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	undo := concurrency.AlignMaxProcs(nil)
	defer undo()

	if err := cli.NewRootCmd(version).Execute(); err != nil {
		return 1
	}
	return 0
}
