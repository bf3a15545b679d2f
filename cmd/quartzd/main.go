package main

import (
	"os"

	"github.com/quartzfs/quartz/cmd/quartzd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
