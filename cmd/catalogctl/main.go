// Command catalogctl searches and analyses a catalog file without a
// running server. The file holds entities and relationships as JSON or
// YAML and is loaded into an in-memory store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
