// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package command holds the root cobra command and the flags shared by
// every subcommand.
package command

import (
	"github.com/spf13/cobra"
)

// GlobalParams are the flags every subcommand can read.
type GlobalParams struct {
	// ConfFilePath is an explicit configuration file. Empty means search
	// the working directory and /etc/landslide.
	ConfFilePath string
}

// SubcommandFactory builds one subcommand from the shared flags.
type SubcommandFactory func(*GlobalParams) *cobra.Command

// MakeCommand assembles the root command from the given factories.
func MakeCommand(factories []SubcommandFactory) *cobra.Command {
	globalParams := &GlobalParams{}

	rootCmd := &cobra.Command{
		Use:   "agent [command]",
		Short: "Landslide monitoring agent at your service.",
		Long: `
The agent ingests GNSS, rainfall, water level and vibration frames from the
MQTT broker, confirms danger conditions and fans live events out to the
dashboard while persisting a selective history.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&globalParams.ConfFilePath, "cfgpath", "c", "",
		"path to landslide.yaml")

	for _, factory := range factories {
		rootCmd.AddCommand(factory(globalParams))
	}
	return rootCmd
}
