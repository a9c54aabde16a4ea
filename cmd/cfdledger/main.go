package main

import (
	"os"

	"github.com/rustyeddy/cfdledger/cmd/cfdledger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
