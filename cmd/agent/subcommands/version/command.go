// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package version implements the version subcommand.
package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tundzai001/land-slide-web/cmd/agent/command"
	"github.com/tundzai001/land-slide-web/pkg/version"
)

// Command builds the version subcommand.
func Command(*command.GlobalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version info",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("landslide agent %s - go %s\n", version.Full(), runtime.Version())
		},
	}
}
