package main

import (
	"os"

	"github.com/Intelligent-Internet/ii-agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
