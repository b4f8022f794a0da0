// Package main provides the entry point for the docuchat CLI.
package main

import (
	"os"

	"github.com/ivansantander-hub/docuchat/cmd/docuchat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
