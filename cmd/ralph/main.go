// Command ralph runs the autonomous task loop described in
// SPEC_FULL.md: pick the next eligible task from the ledger, drive it
// through a bounded tool-calling loop, commit or roll back, sync the
// external tracker, and repeat until a stopping condition is met.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
