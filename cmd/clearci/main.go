package main

import (
	"os"

	"clearci/cmd/clearci/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		os.Exit(1)
	}
}
