package main

import (
	"os"

	"github.com/memorypilot/watchagent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
