// Package main provides the entry point for the roomsync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/coderoom-dev/roomsync/cmd/roomsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
