// The main package for the scout executable.
package main

import (
	"github.com/hawkcrawl/scout/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
