// Command rotd rotates, verifies and self-heals a published directory tree.
package main

import (
	"os"

	"github.com/awnumar/memguard"

	"github.com/roach88/rotd/internal/cli"
)

func main() {
	// Interrupts are handled per command so serve can shut down cleanly;
	// the enclave is wiped on every exit path here.
	code := cli.Execute()
	memguard.Purge()
	os.Exit(code)
}
