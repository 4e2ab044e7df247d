// Command stayctl is the operator CLI: list contracts, preview and commit
// closeouts, and export the xlsx reports without going through HTTP.
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
