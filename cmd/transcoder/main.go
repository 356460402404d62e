// Package main is the entry point for mkv-transcoder.
package main

import (
	"os"

	"mkv-transcoder/cmd/transcoder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
