// Package main is the entry point for the mediaflow application.
package main

import (
	"os"

	"github.com/jmylchreest/mediaflow/cmd/mediaflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
