// The main package for the bulkimporter executable.
package main

import (
	"github.com/JakeFAU/bulk-importer/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
