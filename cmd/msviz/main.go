// Command msviz opens mass spectrometry datasets, converting foreign formats
// to the native store, and serves the open dataset over HTTP.
package main

import (
	"fmt"
	"os"
)

// version is injected via ldflags: -X main.version=0.2.0
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
