// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package fetchorigin implements the one-shot live origin fetch used when
// commissioning a GNSS station.
package fetchorigin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tundzai001/land-slide-web/cmd/agent/command"
	"github.com/tundzai001/land-slide-web/pkg/broker"
	"github.com/tundzai001/land-slide-web/pkg/config"
	"github.com/tundzai001/land-slide-web/pkg/wire"
)

// Command builds the fetch-origin subcommand.
func Command(globalParams *command.GlobalParams) *cobra.Command {
	var (
		topic   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch-origin",
		Short: "Listen on a topic and print the first usable GNSS fix",
		Long: `fetch-origin subscribes to the given MQTT topic and waits for the first
GGA sentence with fix quality 1 or better, then prints it as JSON. Field
engineers paste the output into the station sheet when surveying a new
reference origin.`,
		RunE: func(*cobra.Command, []string) error {
			return fetchOrigin(globalParams, topic, timeout)
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "MQTT topic to listen on (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for a usable fix")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func fetchOrigin(globalParams *command.GlobalParams, topic string, timeout time.Duration) error {
	settings, err := config.Load(globalParams.ConfFilePath)
	if err != nil {
		return err
	}
	codec, err := wire.NewCodec(settings.AESKey, settings.AESIV)
	if err != nil {
		return fmt.Errorf("payload codec: %w", err)
	}

	fmt.Fprintf(os.Stderr, "listening on %q for up to %s...\n", topic, timeout)
	fix, err := broker.FetchLiveOrigin(context.Background(), settings.Broker, codec, topic, timeout)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(fix)
}
