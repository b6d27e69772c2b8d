package packet

import (
	"bytes"
	"errors"
	"io"
)

const (
	// HeaderSize is the fixed header region: the kind byte plus reserved bytes.
	HeaderSize = 4
	// BodySize is the fixed body capacity; message text is right-padded or
	// truncated to fit.
	BodySize = 508
	// FrameSize is the total wire size of every frame.
	FrameSize = HeaderSize + BodySize

	kindOffset = 0
)

// Kind identifies one frame's packet kind. The set is closed.
type Kind byte

const (
	KindDisconnect Kind = 0
	KindMessage    Kind = 1
)

var ErrShortFrame = errors.New("packet: short frame")

func (k Kind) String() string {
	switch k {
	case KindDisconnect:
		return "disconnect"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Encode builds one complete frame. The body is copied into the fixed body
// region: zero-padded when shorter than BodySize, truncated when longer.
// Disconnect frames carry a zeroed body regardless of input.
func Encode(kind Kind, body []byte) []byte {
	buf := make([]byte, FrameSize)
	buf[kindOffset] = byte(kind)
	if kind != KindDisconnect {
		copy(buf[HeaderSize:], body)
	}
	return buf
}

// Decode reads the kind byte at its fixed offset and returns a copy of the
// body region verbatim, trailing padding included. It fails with
// ErrShortFrame when the buffer holds less than one full frame; a full-size
// buffer always decodes, unknown kind values included.
func Decode(buf []byte) (Kind, []byte, error) {
	if len(buf) < FrameSize {
		return 0, nil, ErrShortFrame
	}
	body := make([]byte, BodySize)
	copy(body, buf[HeaderSize:FrameSize])
	return Kind(buf[kindOffset]), body, nil
}

// WriteFrame encodes and writes exactly one frame.
func WriteFrame(w io.Writer, kind Kind, body []byte) error {
	_, err := w.Write(Encode(kind, body))
	return err
}

// ReadFrame reads exactly one frame from the stream. A stream that ends
// before a full frame arrives fails with ErrShortFrame.
func ReadFrame(r io.Reader) (Kind, []byte, error) {
	var buf [FrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrShortFrame
		}
		return 0, nil, err
	}
	return Decode(buf[:])
}

// Text interprets a decoded body as message text, dropping the zero padding.
func Text(body []byte) string {
	if i := bytes.IndexByte(body, 0); i >= 0 {
		return string(body[:i])
	}
	return string(body)
}
