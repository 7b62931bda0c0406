package main

import (
	"os"

	"github.com/dvcrn/gcp-token-stash/internal/logger"
)

func main() {
	root := NewRootCommand(DefaultConfig())
	if err := root.Execute(); err != nil {
		logger.Get().Error().Err(err).Msg("gettoken failed")
		os.Exit(1)
	}
}
