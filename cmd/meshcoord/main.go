// Command meshcoord runs coordination scripts against an in-process
// coordinator and inspects its configuration.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
