// The main package for the loadstate executable.
package main

import (
	"github.com/JakeFAU/loadstate/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
