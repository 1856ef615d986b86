package main

import (
	"os"

	"github.com/rustyeddy/perpbt/cmd/perpbt/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
