// filez - command-line client for a remote file tree served over HTTP.
//
// Build with: go build ./cmd/filez
package main

import (
	"fmt"
	"os"

	"github.com/rescale/filez/internal/cli"
	"github.com/rescale/filez/internal/fips"
)

func main() {
	if err := fips.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
