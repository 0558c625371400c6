// Command modhostd loads a directory of WASM plugins into a module
// registry and keeps them resolved until interrupted. It follows
// cmd/inos-node's plain entrypoint style but replaces its one-shot demo
// body with a long-lived host driven by pkg/modhost.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
