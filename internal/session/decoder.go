package session

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned when the response body is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("response body is not valid UTF-8")

// chunkDecoder turns raw body reads into text. A rune split across two
// reads is held back until its remaining bytes arrive.
type chunkDecoder struct {
	pending []byte
}

// Decode returns the complete text available after appending p.
func (d *chunkDecoder) Decode(p []byte) (string, error) {
	buf := append(d.pending, p...)

	cut := len(buf)
	for k := 1; k < utf8.UTFMax && k <= len(buf); k++ {
		if utf8.RuneStart(buf[len(buf)-k]) {
			if !utf8.FullRune(buf[len(buf)-k:]) {
				cut = len(buf) - k
			}
			break
		}
	}

	if !utf8.Valid(buf[:cut]) {
		d.pending = nil
		return "", ErrInvalidUTF8
	}
	text := string(buf[:cut])
	d.pending = append([]byte(nil), buf[cut:]...)
	return text, nil
}

// Flush reports an error when the body ended inside a rune.
func (d *chunkDecoder) Flush() error {
	if len(d.pending) > 0 {
		d.pending = nil
		return ErrInvalidUTF8
	}
	return nil
}
