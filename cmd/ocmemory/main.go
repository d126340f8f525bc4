// Package main provides the entry point for the oc-memory CLI.
package main

import (
	"os"

	"github.com/NewTurn2017/oc-memory/cmd/ocmemory/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
