package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/memchat/internal/model/chat"
	"github.com/zhouzirui/memchat/internal/observability"
	"github.com/zhouzirui/memchat/internal/service/bridge"
	"github.com/zhouzirui/memchat/pkg/utils"
)

const (
	transportHTTP = "http"
	transportWS   = "ws"
)

// maxRequestBytes caps the JSON body of a chat turn.
const maxRequestBytes = 1 << 20

// Starter opens a token channel for one chat turn.
type Starter interface {
	Start(ctx context.Context, req chat.Request) (*bridge.Channel, error)
}

// Handler relays bridge token channels to HTTP and WebSocket clients.
type Handler struct {
	bridge   Starter
	metrics  *observability.StreamingMetrics
	upgrader websocket.Upgrader
}

// New creates a stream handler. metrics may be nil.
func New(b Starter, metrics *observability.StreamingMetrics) *Handler {
	return &Handler{
		bridge:  b,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the chat streaming routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/ws", h.handleWebSocket)
}

// handleChat streams the reply to one chat turn as a raw text body.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := requestLogger(r, transportHTTP)

	var req chat.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.metrics.Rejected(transportHTTP, "decode")
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sw, err := utils.NewStreamWriter(w)
	if err != nil {
		h.metrics.Rejected(transportHTTP, "transport")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ch, err := h.bridge.Start(ctx, req)
	if err != nil {
		h.metrics.Rejected(transportHTTP, rejectKind(err))
		logger.Warn().Err(err).Msg("chat turn rejected")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer ch.Close()

	utils.SetupStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	sw.Flush()

	tracker := h.metrics.Begin(transportHTTP)
	for {
		token, err := ch.Recv(ctx)
		if err == nil {
			if werr := sw.WriteChunk(token); werr != nil {
				tracker.End(observability.StatusDisconnected)
				logger.Info().Err(werr).Msg("client went away mid-stream")
				return
			}
			tracker.Token()
			continue
		}

		var genErr *bridge.GenerationError
		switch {
		case errors.Is(err, io.EOF):
			tracker.End(observability.StatusCompleted)
			return
		case errors.As(err, &genErr) && ctx.Err() == nil:
			tracker.End(observability.StatusAborted)
			logger.Error().Err(genErr.Cause).Msg("stream aborted")
			// Headers are already sent; dropping the connection is the
			// only way to tell the client the body is incomplete.
			panic(http.ErrAbortHandler)
		default:
			tracker.End(observability.StatusDisconnected)
			logger.Info().Err(err).Msg("client went away mid-stream")
			return
		}
	}
}

func rejectKind(err error) string {
	var verr *chat.ValidationError
	if errors.As(err, &verr) {
		return "validation"
	}
	return "prepare"
}

func requestLogger(r *http.Request, transport string) zerolog.Logger {
	return log.With().
		Str("component", "stream").
		Str("transport", transport).
		Str("request_id", middleware.GetReqID(r.Context())).
		Logger()
}
