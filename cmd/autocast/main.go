package main

import (
	"os"

	"github.com/wonny/autocast/cmd/autocast/commands"
)

// main is the entry point for the autocast CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/autocast [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
