// Command ldesign plans library builds, detects project types and serves the
// planning API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
