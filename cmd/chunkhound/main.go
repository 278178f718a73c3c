// Command chunkhound is the ChunkHound CLI entry point.
package main

import (
	"os"

	"github.com/chunkhound/chunkhound/cmd/chunkhound/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
