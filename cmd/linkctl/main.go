// linkctl drives the handshake from a terminal: request a code and wait for its token,
// approve a code shown on another device, or call the protected endpoint.
package main

import (
	"fmt"
	"os"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
