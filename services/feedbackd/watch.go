// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedbackd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianFeedback/pkg/feedback"
)

const (
	// watchBuffer is how many changes a watcher may lag before drops.
	watchBuffer = 64

	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = (watchPongWait * 9) / 10
)

// Watch message kinds.
const (
	WatchKindStatus  = "status"
	WatchKindChange  = "change"
	WatchKindDropped = "dropped"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// WatchMessage is one websocket frame sent to a watcher.
type WatchMessage struct {
	Kind   string           `json:"kind"`
	Change *feedback.Change `json:"change,omitempty"`
	Status *StatusResponse  `json:"status,omitempty"`
}

// Watch streams a scope's status over a websocket.
//
// Description:
//
//	Sends the current status on connect, then one "change" message per
//	ledger mutation carrying the Change and the status after it. If the
//	watcher falls more than watchBuffer changes behind, further changes are
//	dropped until it catches up; each message still carries the latest
//	version. When the scope is dropped a "dropped" message is sent and the
//	connection closes. On server shutdown the connection closes with
//	CloseGoingAway and no "dropped" message.
func (h *Handlers) Watch(c *gin.Context) {
	ledger, scope, ok := h.ledger(c)
	if !ok {
		return
	}

	feed, err := h.openFeed(scope, ledger, c.Query("field"))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer feed.close()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("scope", scope), slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	h.metrics.RecordWatcher(1)
	defer h.metrics.RecordWatcher(-1)

	logger := h.logger.With(slog.String("scope", scope), slog.String("subscription_id", feed.subID))
	logger.Debug("watcher connected")

	closed := readUntilClosed(ws)

	send := func(msg WatchMessage) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(watchWriteWait))
		if err := ws.WriteJSON(msg); err != nil {
			logger.Debug("watcher write failed", slog.String("error", err.Error()))
			return false
		}
		return true
	}
	closeWith := func(code int, text string) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(watchWriteWait))
	}

	if !send(WatchMessage{Kind: WatchKindStatus, Status: &feed.initial}) {
		return
	}

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()

	for {
		select {
		case change := <-feed.changes:
			// Already reflected in the initial status.
			if change.Version <= feed.initial.Version {
				continue
			}
			status, err := BuildStatus(scope, ledger, feed.field)
			if err != nil {
				return
			}
			if !send(WatchMessage{Kind: WatchKindChange, Change: &change, Status: &status}) {
				return
			}

		case <-feed.dropped:
			// A ledger released by Close also reads as no longer owned.
			select {
			case <-h.registry.Closing():
				closeWith(websocket.CloseGoingAway, "server shutting down")
				return
			default:
			}
			send(WatchMessage{Kind: WatchKindDropped})
			closeWith(websocket.CloseNormalClosure, "scope dropped")
			return

		case <-h.registry.Closing():
			closeWith(websocket.CloseGoingAway, "server shutting down")
			return

		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}

		case <-closed:
			logger.Debug("watcher disconnected")
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}

// watchFeed is a watcher's ledger subscription and the status it starts
// from.
type watchFeed struct {
	field   string
	initial StatusResponse
	changes chan feedback.Change
	dropped <-chan struct{}

	ledger *feedback.Ledger
	subID  string
}

// openFeed subscribes before taking the initial status, so a mutation
// between the two shows up as a buffered change rather than being lost.
func (h *Handlers) openFeed(scope string, ledger *feedback.Ledger, field string) (*watchFeed, error) {
	feed := &watchFeed{
		field:   field,
		changes: make(chan feedback.Change, watchBuffer),
		ledger:  ledger,
	}
	feed.subID = ledger.Subscribe(func(change feedback.Change) {
		select {
		case feed.changes <- change:
		default:
			h.metrics.RecordWatchDrop()
		}
	})

	initial, err := BuildStatus(scope, ledger, field)
	if err != nil {
		feed.close()
		return nil, err
	}
	feed.initial = initial
	feed.dropped = h.registry.Dropped(scope, ledger)
	return feed, nil
}

func (f *watchFeed) close() {
	f.ledger.Unsubscribe(f.subID)
}

// readUntilClosed drains client frames so control messages are processed
// and returns a channel closed once the connection fails or closes.
func readUntilClosed(ws *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})

	_ = ws.SetReadDeadline(time.Now().Add(watchPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(watchPongWait))
	})

	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}
