// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package version carries the agent build identity.
package version

import "fmt"

// AgentVersion is populated at build time through -ldflags.
var AgentVersion string

// Commit is the short hash the agent was built from, also set via -ldflags.
var Commit string

var agentVersionDefault = "0.0.0-devel"

func init() {
	if AgentVersion == "" {
		AgentVersion = agentVersionDefault
	}
}

// Full renders the version line printed by the version subcommand.
func Full() string {
	if Commit == "" {
		return AgentVersion
	}
	return fmt.Sprintf("%s (commit %s)", AgentVersion, Commit)
}
