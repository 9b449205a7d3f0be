// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package main

import (
	"os"

	"github.com/tundzai001/land-slide-web/cmd/agent/command"
	"github.com/tundzai001/land-slide-web/cmd/agent/subcommands/fetchorigin"
	"github.com/tundzai001/land-slide-web/cmd/agent/subcommands/run"
	"github.com/tundzai001/land-slide-web/cmd/agent/subcommands/version"
)

func main() {
	factories := []command.SubcommandFactory{
		run.Command,
		fetchorigin.Command,
		version.Command,
	}
	if err := command.MakeCommand(factories).Execute(); err != nil {
		os.Exit(1)
	}
}
