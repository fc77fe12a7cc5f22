package main

import (
	"os"

	"github.com/ccp-p/media-transcriber/cmd/transcriber/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
