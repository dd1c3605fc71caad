// Package main provides the entry point for the harvest CLI.
package main

import (
	"context"

	"github.com/jmylchreest/refyne-harvest/cmd/harvest/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
