// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tundzai001/land-slide-web/pkg/config"
	"github.com/tundzai001/land-slide-web/pkg/wire"
)

// defaultFetchTimeout bounds a live-origin fetch when the caller passes no
// deadline of its own.
const defaultFetchTimeout = 30 * time.Second

// LiveFix is one usable GGA observation pulled from the live feed. Field
// names match what field engineers paste into station sheets.
type LiveFix struct {
	Topic      string  `json:"topic"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Height     float64 `json:"height_m"`
	FixQuality int     `json:"fix_quality"`
	NumSats    int     `json:"num_satellites"`
	HDOP       float64 `json:"hdop"`
}

// FetchLiveOrigin opens a one-shot session, subscribes to topic and returns
// the first GGA sentence carrying a real fix (quality >= 1). It gives up
// after timeout, or 30 seconds when timeout is zero.
func FetchLiveOrigin(ctx context.Context, settings config.BrokerSettings, codec *wire.Codec, topic string, timeout time.Duration) (*LiveFix, error) {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURI(settings)).
		SetClientID(clientID(settings.ClientIDPrefix + "-fetch")).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("broker: connect to %s timed out after %s", brokerURI(settings), timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("broker: connect to %s: %w", brokerURI(settings), err)
	}
	defer client.Disconnect(uint(disconnectQuiesce.Milliseconds()))

	fixes := make(chan *LiveFix, 1)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		fix, ok := liveFixFrom(codec, msg.Topic(), msg.Payload())
		if !ok {
			return
		}
		select {
		case fixes <- fix:
		default:
		}
	}
	sub := client.Subscribe(topic, qosAtLeastOnce, handler)
	if sub.Wait(); sub.Error() != nil {
		return nil, fmt.Errorf("broker: subscribe %q: %w", topic, sub.Error())
	}

	select {
	case fix := <-fixes:
		return fix, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("broker: no usable fix on %q within %s", topic, timeout)
	}
}

// liveFixFrom decodes one payload and keeps it only when it parses as a
// GGA sentence with a real fix.
func liveFixFrom(codec *wire.Codec, topic string, payload []byte) (*LiveFix, bool) {
	text, err := codec.Decode(payload)
	if err != nil {
		return nil, false
	}
	line := strings.TrimSpace(text)
	if !strings.HasPrefix(line, "$G") {
		return nil, false
	}
	gga, err := wire.ParseGGA(line)
	if err != nil {
		return nil, false
	}
	if gga.FixQuality < 1 {
		return nil, false
	}
	return &LiveFix{
		Topic:      topic,
		Latitude:   gga.Lat,
		Longitude:  gga.Lon,
		Height:     gga.Height,
		FixQuality: gga.FixQuality,
		NumSats:    gga.NumSats,
		HDOP:       gga.HDOP,
	}, true
}
