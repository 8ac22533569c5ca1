// Command zippyctl signs operators in, runs password recovery and calls the
// admin reset endpoint.
package main

import (
	"os"

	"zippytrip.org/internal/ctl"
)

func main() {
	os.Exit(ctl.Main(os.Args, os.Stderr))
}
