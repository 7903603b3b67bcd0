package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"cipherlend/observability"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPageSize     = 200
)

// handleEventsWS streams committed events with a sequence greater than the
// optional "after" query parameter, then follows the log as it grows.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientSource(r, s.trustFw), time.Now()) {
		observability.ModuleMetrics().RecordThrottle("ws")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Clients only read; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64) error {
	notify, stop := s.node.WatchEvents()
	defer stop()
	for {
		for {
			page, err := s.node.Events(ctx, after, wsPageSize)
			if err != nil {
				return err
			}
			for _, entry := range page {
				if entry.Event == nil {
					continue
				}
				payload := EventResult{Sequence: entry.Sequence, Type: entry.Event.Type, Attributes: entry.Event.Attributes}
				if err := writeEvent(ctx, conn, payload); err != nil {
					return err
				}
				after = entry.Sequence
			}
			if len(page) < wsPageSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt EventResult) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
