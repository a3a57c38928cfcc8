// Command adadisk generates synthetic vector datasets, builds disk-resident
// ANN indexes for them and queries the result.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
