// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tundzai001/land-slide-web/pkg/message"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

const (
	// sendBuffer is the per-observer event backlog. A client that falls
	// this far behind is a slow consumer and gets dropped.
	sendBuffer = 64
	writeWait  = 10 * time.Second
	// maxInboundBytes bounds client messages; the protocol only expects
	// the literal "ping".
	maxInboundBytes = 512
)

var errSlowConsumer = errors.New("websocket observer backlog full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard terminates TLS and enforces origin upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsObserver adapts one websocket connection to the hub's observer
// contract. Events are handed to a writer goroutine through a buffered
// channel so Send never blocks a pipeline worker.
type wsObserver struct {
	conn *websocket.Conn
	send chan message.Event
	done chan struct{}
	once sync.Once
}

func newWSObserver(conn *websocket.Conn) *wsObserver {
	return &wsObserver{
		conn: conn,
		send: make(chan message.Event, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send implements hub.Observer. A full backlog closes the connection and
// reports the failure so the hub drops this observer.
func (o *wsObserver) Send(ev message.Event) error {
	select {
	case o.send <- ev:
		return nil
	case <-o.done:
		return errSlowConsumer
	default:
		o.close()
		return errSlowConsumer
	}
}

func (o *wsObserver) close() {
	o.once.Do(func() { close(o.done) })
}

func (o *wsObserver) writeLoop() {
	defer func() { _ = o.conn.Close() }()
	for {
		select {
		case ev := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteJSON(ev); err != nil {
				o.close()
				return
			}
		case <-o.done:
			_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = o.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// readLoop consumes client messages until the connection dies. The only
// recognized message is the text "ping".
func (o *wsObserver) readLoop(onPing func()) {
	defer o.close()
	o.conn.SetReadLimit(maxInboundBytes)
	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			return
		}
		if strings.TrimSpace(string(data)) == "ping" {
			onPing()
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("api: websocket upgrade: %v", err)
		return
	}

	obs := newWSObserver(conn)
	// The snapshot goes into the buffer before the observer joins the
	// fan-out set, so it always precedes live events.
	if snap := s.snapshot(r.Context()); snap != nil {
		_ = obs.Send(snap)
	}
	s.deps.Hub.Register(obs)
	go obs.writeLoop()

	obs.readLoop(func() { _ = obs.Send(message.NewPong()) })

	s.deps.Hub.Unregister(obs)
	obs.close()
}

// snapshot packs the current station risk levels into one batch_update.
func (s *Server) snapshot(ctx context.Context) message.Event {
	stations, err := s.deps.Stations.ListStations(ctx)
	if err != nil {
		log.Warnf("api: websocket snapshot: %v", err)
		return nil
	}
	events := make([]message.Event, 0, len(stations))
	for _, st := range stations {
		events = append(events, message.NewStationStatus(st.ID, st.RiskLevel))
	}
	return message.NewBatchUpdate(events)
}
