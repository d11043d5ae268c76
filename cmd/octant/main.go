// Package main is the entry point for the octant server.
package main

import (
	"os"

	"github.com/octantbim/octant/cmd/octant/app"
	"github.com/octantbim/octant/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
