// The main package for the slack-history-crawler executable.
package main

import (
	"github.com/JakeFAU/slack-history-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
