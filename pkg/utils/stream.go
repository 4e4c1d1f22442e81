package utils

import (
	"errors"
	"io"
	"net/http"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SetupStreamHeaders 设置流式文本响应头
//
// The body is raw UTF-8 text without SSE framing; the event-stream content
// type only keeps intermediaries from buffering it.
func SetupStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
}

// StreamWriter writes unframed chunks and flushes each one.
type StreamWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewStreamWriter returns a StreamWriter for w, or ErrStreamingUnsupported.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &StreamWriter{w: w, flusher: flusher}, nil
}

// Flush pushes buffered output to the client.
func (s *StreamWriter) Flush() {
	s.flusher.Flush()
}

// WriteChunk 发送一个文本块并立即刷新
func (s *StreamWriter) WriteChunk(chunk string) error {
	if _, err := io.WriteString(s.w, chunk); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
