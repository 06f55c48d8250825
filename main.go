// The main package for the ercot-archiver executable.
package main

import (
	"github.com/Erdos-Projects/spring-2026-electricity-TX/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
