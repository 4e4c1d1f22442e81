package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/memchat/internal/model/chat"
	"github.com/zhouzirui/memchat/internal/observability"
	"github.com/zhouzirui/memchat/internal/service/bridge"
)

const (
	wsWriteWait = 10 * time.Second
	// wsCloseGrace is how long the peer gets to answer our close frame.
	wsCloseGrace = 5 * time.Second
	// maxCloseReason is the control frame payload limit minus the status code.
	maxCloseReason = 123
)

var errClientGone = errors.New("websocket client disconnected")

type wsErrorFrame struct {
	Error string `json:"error"`
}

// handleWebSocket relays one chat turn over a WebSocket: the first client
// frame carries the request, every token becomes one text frame and the
// close code reports how the stream ended.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, transportWS)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var req chat.Request
	_, data, err := conn.ReadMessage()
	if err != nil {
		logger.Info().Err(err).Msg("websocket closed before a request arrived")
		return
	}
	if err := json.Unmarshal(data, &req); err != nil {
		h.metrics.Rejected(transportWS, "decode")
		rejectWebSocket(conn, "invalid request body")
		return
	}

	ch, err := h.bridge.Start(ctx, req)
	if err != nil {
		h.metrics.Rejected(transportWS, rejectKind(err))
		logger.Warn().Err(err).Msg("chat turn rejected")
		rejectWebSocket(conn, err.Error())
		return
	}
	defer ch.Close()

	tracker := h.metrics.Begin(transportWS)
	status := observability.StatusDisconnected
	relayed := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(relayed)
		var err error
		status, err = relayWebSocket(gctx, conn, ch, tracker)
		_ = conn.SetReadDeadline(time.Now().Add(wsCloseGrace))
		return err
	})
	g.Go(func() error {
		// Client frames after the request are ignored; a read error before
		// the relay finished means the client left.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case <-relayed:
					return nil
				default:
					return errClientGone
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Info().Err(err).Msg("websocket stream ended early")
	}
	tracker.End(status)
}

// relayWebSocket writes tokens until ch ends, then sends the close frame.
func relayWebSocket(ctx context.Context, conn *websocket.Conn, ch *bridge.Channel, tracker *observability.StreamTracker) (string, error) {
	for {
		token, err := ch.Recv(ctx)
		if err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if werr := conn.WriteMessage(websocket.TextMessage, []byte(token)); werr != nil {
				return observability.StatusDisconnected, werr
			}
			tracker.Token()
			continue
		}

		var genErr *bridge.GenerationError
		switch {
		case errors.Is(err, io.EOF):
			return observability.StatusCompleted, writeClose(conn, websocket.CloseNormalClosure, "")
		case errors.As(err, &genErr) && ctx.Err() == nil:
			_ = writeClose(conn, websocket.CloseInternalServerErr, genErr.Error())
			return observability.StatusAborted, nil
		default:
			return observability.StatusDisconnected, err
		}
	}
}

func rejectWebSocket(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsErrorFrame{Error: message}); err != nil {
		return
	}
	_ = writeClose(conn, websocket.CloseUnsupportedData, "")
}

func writeClose(conn *websocket.Conn, code int, reason string) error {
	if len(reason) > maxCloseReason {
		reason = strings.ToValidUTF8(reason[:maxCloseReason], "")
	}
	msg := websocket.FormatCloseMessage(code, reason)
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
