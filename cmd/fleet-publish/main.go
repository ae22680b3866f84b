package main

import (
	"os"

	"github.com/bianoble/fleet-publish/cmd/fleet-publish/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
