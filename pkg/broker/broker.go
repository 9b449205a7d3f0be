// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package broker consumes sensor frames from the MQTT broker. The consumer
// owns the connection lifecycle: paho auto-reconnect stays off and a manual
// loop re-dials with exponential backoff, restoring the tracked subscription
// set on every successful connect.
package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tundzai001/land-slide-web/pkg/config"
	"github.com/tundzai001/land-slide-web/pkg/message"
	"github.com/tundzai001/land-slide-web/pkg/telemetry"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

const (
	// qosAtLeastOnce is used for every subscription; the pipeline
	// tolerates duplicate frames.
	qosAtLeastOnce byte = 1

	connectTimeout = 10 * time.Second
	keepAlive      = 30 * time.Second
	// disconnectQuiesce is how long Disconnect waits for in-flight work.
	disconnectQuiesce = 250 * time.Millisecond
)

// State is the consumer's connection state, surfaced on the health endpoint.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDraining     State = "draining"
)

var (
	tlmMessages = telemetry.NewCounter("broker", "messages",
		nil, "Raw frames received from the broker")
	tlmReconnects = telemetry.NewCounter("broker", "reconnects",
		[]string{"event"}, "Connection lifecycle events")
	tlmSubscriptions = telemetry.NewGauge("broker", "subscriptions",
		nil, "Topics the consumer is subscribed to")
)

// Handler receives every raw frame, typically pipeline.Dispatch. It must
// not block; the paho reader goroutine calls it inline.
type Handler func(frame message.Frame)

// Consumer is the MQTT ingest side of the agent.
type Consumer struct {
	settings config.BrokerSettings
	handler  Handler
	clock    clock.Clock

	client mqtt.Client

	mu     sync.Mutex
	topics map[string]struct{}
	state  State

	lost chan struct{}
}

// New builds a consumer for the given broker. The client id is the
// configured prefix with a uuid suffix so parallel agents never collide.
func New(settings config.BrokerSettings, handler Handler, clk clock.Clock) *Consumer {
	c := &Consumer{
		settings: settings,
		handler:  handler,
		clock:    clk,
		topics:   make(map[string]struct{}),
		state:    StateDisconnected,
		lost:     make(chan struct{}, 1),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURI(settings)).
		SetClientID(clientID(settings.ClientIDPrefix)).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onLost).
		SetDefaultPublishHandler(c.onMessage)
	if settings.Username != "" {
		opts.SetUsername(settings.Username)
		opts.SetPassword(settings.Password)
	}
	c.client = mqtt.NewClient(opts)
	return c
}

// Run connects and keeps the session alive until ctx is cancelled. Lost
// connections are re-dialed with backoff; a cancelled context drains the
// client and returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := c.connect(ctx); err != nil {
			c.shutdown()
			return nil
		}
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-c.lost:
		}
	}
}

// connect dials until it succeeds or ctx is cancelled. The policy starts
// at five seconds and caps at ten, with no give-up deadline.
func (c *Consumer) connect(ctx context.Context) error {
	c.setState(StateConnecting)
	dial := func() error {
		token := c.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.Warnf("broker: connect to %s: %v", brokerURI(c.settings), err)
			return err
		}
		return nil
	}
	return backoff.Retry(dial, backoff.WithContext(reconnectPolicy(), ctx))
}

func (c *Consumer) shutdown() {
	c.setState(StateDraining)
	if c.client.IsConnected() {
		c.client.Disconnect(uint(disconnectQuiesce.Milliseconds()))
	}
	c.setState(StateDisconnected)
	log.Info("broker: disconnected")
}

// Subscribe adds the topic to the tracked set and, when connected, to the
// live session. Tracked topics are restored on every reconnect.
func (c *Consumer) Subscribe(topic string) error {
	c.mu.Lock()
	if _, ok := c.topics[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.topics[topic] = struct{}{}
	n := len(c.topics)
	connected := c.state == StateConnected
	c.mu.Unlock()

	tlmSubscriptions.Set(float64(n))
	if !connected {
		return nil
	}
	token := c.client.Subscribe(topic, qosAtLeastOnce, nil)
	token.Wait()
	return token.Error()
}

// Unsubscribe drops the topic from the tracked set and the live session.
func (c *Consumer) Unsubscribe(topic string) error {
	c.mu.Lock()
	if _, ok := c.topics[topic]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.topics, topic)
	n := len(c.topics)
	connected := c.state == StateConnected
	c.mu.Unlock()

	tlmSubscriptions.Set(float64(n))
	if !connected {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Topics returns the tracked subscription set, sorted.
func (c *Consumer) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// State reports the connection state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the session is up.
func (c *Consumer) Connected() bool {
	return c.State() == StateConnected
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// onConnect restores the tracked subscriptions. paho calls it after every
// successful connect, the first one included.
func (c *Consumer) onConnect(client mqtt.Client) {
	c.setState(StateConnected)
	tlmReconnects.Inc("established")

	topics := c.Topics()
	log.Infof("broker: connected to %s, restoring %d subscriptions", brokerURI(c.settings), len(topics))
	for _, t := range topics {
		token := client.Subscribe(t, qosAtLeastOnce, nil)
		if token.Wait(); token.Error() != nil {
			log.Errorf("broker: resubscribe %q: %v", t, token.Error())
		}
	}
}

func (c *Consumer) onLost(_ mqtt.Client, err error) {
	c.setState(StateDisconnected)
	tlmReconnects.Inc("lost")
	log.Warnf("broker: connection lost: %v", err)
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

func (c *Consumer) onMessage(_ mqtt.Client, msg mqtt.Message) {
	tlmMessages.Inc()
	c.handler(message.Frame{
		Topic:      msg.Topic(),
		Payload:    msg.Payload(),
		ReceivedAt: c.clock.Now(),
	})
}

func reconnectPolicy() backoff.BackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = 5 * time.Second
	p.RandomizationFactor = 0
	p.Multiplier = 2
	p.MaxInterval = 10 * time.Second
	p.MaxElapsedTime = 0
	return p
}

func brokerURI(s config.BrokerSettings) string {
	return fmt.Sprintf("tcp://%s:%d", s.Host, s.Port)
}

func clientID(prefix string) string {
	if prefix == "" {
		prefix = "lsw-agent"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
