package main

import (
	"os"

	"github.com/FiveIT/eseuri/cmd/eseuri/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
