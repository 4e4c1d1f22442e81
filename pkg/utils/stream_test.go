package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type plainWriter struct{ http.ResponseWriter }

func TestStreamWriterRequiresFlusher(t *testing.T) {
	_, err := NewStreamWriter(plainWriter{httptest.NewRecorder()})
	require.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestStreamWriterFlushesEachChunk(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupStreamHeaders(rec)

	sw, err := NewStreamWriter(rec)
	require.NoError(t, err)
	require.NoError(t, sw.WriteChunk("Hel"))
	require.True(t, rec.Flushed)
	require.NoError(t, sw.WriteChunk("lo"))

	require.Equal(t, "Hello", rec.Body.String())
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	require.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusInternalServerError, "boom")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"error":"boom"}`, rec.Body.String())
}
