package main

import (
	"os"

	"github.com/fieldstone/leadflow/cmd/leadflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
