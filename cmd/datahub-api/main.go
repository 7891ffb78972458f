// Package main is the entry point for the datahub orchestration API server.
package main

import (
	"os"

	"github.com/openreliefdata/datahub/cmd/datahub-api/app"
	"github.com/openreliefdata/datahub/pkg/logger"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("Command failed: %v", err)
		os.Exit(1)
	}
}
