// The main package for the scholarcrawler executable.
package main

import (
	"github.com/JakeFAU/scholar-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
