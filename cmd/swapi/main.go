// Command swapi ingests the SWAPI people collection into a local snapshot
// store and serves it over HTTP.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
