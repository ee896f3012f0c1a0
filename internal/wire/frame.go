// Package wire implements the binary frame codec used between the gateway
// and the upstream realtime dialogue service: header packing, gzip payload
// compression, and the event/session segment layout.
package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Version is the only protocol version this codec understands.
const Version uint8 = 1

const headerSizeUnits uint8 = 1 // header is always headerSizeUnits*4 bytes

// MessageType is the 4-bit message-type field of the frame header.
type MessageType uint8

const (
	FullClientRequest  MessageType = 1
	AudioOnlyClient     MessageType = 2
	FullServerResponse  MessageType = 9
	ServerAck           MessageType = 11
	FrontendResult      MessageType = 12
	ErrorMessage        MessageType = 15
)

// TypeFlags is the 4-bit message-type-specific flags field. Unlike a small
// enumeration, the two flags this codec cares about are independent bits:
// a frame can carry a sequence, an event id, both, or neither.
type TypeFlags uint8

const (
	FlagNone        TypeFlags = 0
	FlagHasSequence TypeFlags = 0b0010
	FlagHasEvent    TypeFlags = 0b0100
)

// SerializationMethod is the 4-bit serialization field.
type SerializationMethod uint8

const (
	NoSerialization     SerializationMethod = 0
	JSONSerialization   SerializationMethod = 1
	CustomSerialization SerializationMethod = 15
)

// CompressionMethod is the 4-bit compression field.
type CompressionMethod uint8

const (
	NoCompression     CompressionMethod = 0
	GzipCompression   CompressionMethod = 1
	CustomCompression CompressionMethod = 15
)

// EventID identifies a client- or server-originated event. Events with id
// >= 100 are session-level and always carry a session id; events below 100
// are connection-level and never do.
type EventID int32

// Client event ids.
const (
	EventStartConnection  EventID = 1
	EventFinishConnection EventID = 2
	EventStartSession     EventID = 100
	EventFinishSession    EventID = 102
	EventTaskRequest      EventID = 200
	EventSayHello         EventID = 300
	EventChatTTSText      EventID = 500
	EventChatTextQuery    EventID = 501
)

// Server event ids. EventChatRAGText (502) is not part of the distilled
// vendor catalog but is emitted by the production endpoint for
// retrieval-augmented answers; it normalizes like EventChatResponse.
const (
	EventConnectionStarted      EventID = 50
	EventConnectionFailed       EventID = 51
	EventConnectionFinished     EventID = 52
	EventSessionStarted         EventID = 150
	EventSessionFinished        EventID = 152
	EventSessionFailed          EventID = 153
	EventUsage                  EventID = 154
	EventTTSSentenceStart       EventID = 350
	EventTTSSentenceEnd         EventID = 351
	EventTTSResponse            EventID = 352
	EventTTSEnded               EventID = 359
	EventASRInfo                EventID = 450
	EventASRResponse            EventID = 451
	EventASREnded               EventID = 459
	EventChatResponse           EventID = 550
	EventChatRAGText            EventID = 502
	EventChatTextQueryConfirmed EventID = 553
	EventChatEnded              EventID = 559
	EventDialogCommonError      EventID = 599
)

// IsSessionLevel reports whether the event carries a session id.
func (e EventID) IsSessionLevel() bool { return int32(e) >= 100 }

var (
	// ErrTruncated is returned when a declared length exceeds the bytes remaining.
	ErrTruncated = errors.New("wire: frame truncated")
	// ErrBadVersion is returned when the header version is not Version.
	ErrBadVersion = errors.New("wire: unsupported protocol version")
)

// Header is the fixed 4-byte frame header.
type Header struct {
	Version       uint8
	HeaderSize    uint8
	MessageType   MessageType
	TypeFlags     TypeFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
	Reserved      uint8
}

func newHeader(mt MessageType, flags TypeFlags, ser SerializationMethod, comp CompressionMethod) Header {
	return Header{
		Version:       Version,
		HeaderSize:    headerSizeUnits,
		MessageType:   mt,
		TypeFlags:     flags,
		Serialization: ser,
		Compression:   comp,
	}
}

func (h Header) encode() []byte {
	buf := make([]byte, 4)
	buf[0] = (h.Version << 4) | (h.HeaderSize & 0x0F)
	buf[1] = (uint8(h.MessageType) << 4) | (uint8(h.TypeFlags) & 0x0F)
	buf[2] = (uint8(h.Serialization) << 4) | (uint8(h.Compression) & 0x0F)
	buf[3] = h.Reserved
	return buf
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < 4 {
		return Header{}, ErrTruncated
	}
	h := Header{
		Version:       b[0] >> 4,
		HeaderSize:    b[0] & 0x0F,
		MessageType:   MessageType(b[1] >> 4),
		TypeFlags:     TypeFlags(b[1] & 0x0F),
		Serialization: SerializationMethod(b[2] >> 4),
		Compression:   CompressionMethod(b[2] & 0x0F),
		Reserved:      b[3],
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: got %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

// Frame is the fully decoded form of a wire message. Payload has already
// been gunzipped; it is still JSON-encoded text when Header.Serialization
// is JSONSerialization, otherwise it is opaque bytes (e.g. PCM audio).
type Frame struct {
	Header      Header
	HasSequence bool
	Sequence    int32
	HasEvent    bool
	EventID     EventID
	SessionID   string
	ErrorCode   uint32
	Payload     []byte
}

// IsLastAudioFrame reports whether the sequence marks the final audio frame
// of a logical stream (a negative sequence value).
func (f *Frame) IsLastAudioFrame() bool { return f.HasSequence && f.Sequence < 0 }

// IsError reports whether this is a server error frame.
func (f *Frame) IsError() bool { return f.Header.MessageType == ErrorMessage }

// DecodeJSON unmarshals the frame payload as JSON into v.
func (f *Frame) DecodeJSON(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// BuildEventFrame builds a FULL_CLIENT_REQUEST frame carrying eventID and a
// JSON payload. When eventID is session-level, sessionID is length-prefixed
// ahead of the payload; connection-level events omit the segment entirely.
func BuildEventFrame(eventID EventID, sessionID string, payload any) ([]byte, error) {
	body, err := marshalJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	compressed, err := gzipCompress(body)
	if err != nil {
		return nil, fmt.Errorf("wire: gzip payload: %w", err)
	}

	h := newHeader(FullClientRequest, FlagHasEvent, JSONSerialization, GzipCompression)
	buf := bytes.NewBuffer(h.encode())
	writeUint32(buf, uint32(eventID))
	if eventID.IsSessionLevel() {
		writeLengthPrefixed(buf, []byte(sessionID))
	}
	writeLengthPrefixed(buf, compressed)
	return buf.Bytes(), nil
}

// BuildAudioFrame builds an AUDIO_ONLY_CLIENT frame for eventID (normally
// EventTaskRequest). It always carries the session segment, matching the
// upstream's own audio-frame builder.
func BuildAudioFrame(eventID EventID, sessionID string, audio []byte) ([]byte, error) {
	compressed, err := gzipCompress(audio)
	if err != nil {
		return nil, fmt.Errorf("wire: gzip audio: %w", err)
	}
	h := newHeader(AudioOnlyClient, FlagHasEvent, NoSerialization, GzipCompression)
	buf := bytes.NewBuffer(h.encode())
	writeUint32(buf, uint32(eventID))
	writeLengthPrefixed(buf, []byte(sessionID))
	writeLengthPrefixed(buf, compressed)
	return buf.Bytes(), nil
}

// BuildFullClientRequest builds the flagless request used by the staged
// pipeline's standalone ASR client: no event id, no session segment.
func BuildFullClientRequest(payload []byte, compress bool) ([]byte, error) {
	comp := NoCompression
	body := payload
	if compress {
		var err error
		body, err = gzipCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: gzip payload: %w", err)
		}
		comp = GzipCompression
	}
	h := newHeader(FullClientRequest, FlagNone, JSONSerialization, comp)
	buf := bytes.NewBuffer(h.encode())
	writeLengthPrefixed(buf, body)
	return buf.Bytes(), nil
}

// BuildAudioOnlyRequest builds the staged ASR client's sequenced audio
// frame: the sequence is positive while streaming and negated on the last
// chunk, per the frame model's "negative sequence marks last frame" rule.
func BuildAudioOnlyRequest(audio []byte, seq int32, isLast bool, compress bool) ([]byte, error) {
	comp := NoCompression
	body := audio
	if compress {
		var err error
		body, err = gzipCompress(audio)
		if err != nil {
			return nil, fmt.Errorf("wire: gzip audio: %w", err)
		}
		comp = GzipCompression
	}
	signedSeq := seq
	if isLast {
		signedSeq = -seq
	}
	h := newHeader(AudioOnlyClient, FlagHasSequence, NoSerialization, comp)
	buf := bytes.NewBuffer(h.encode())
	writeUint32(buf, uint32(signedSeq))
	writeLengthPrefixed(buf, body)
	return buf.Bytes(), nil
}

// ParseFrame decodes a complete wire frame. Unknown event ids are tolerated
// and passed through unchanged; truncation, a bad version, and a payload
// that fails to gunzip are the failures.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	h, err := decodeHeader(data[:4])
	if err != nil {
		return nil, err
	}

	offset := int(h.HeaderSize) * 4
	if offset > len(data) {
		return nil, ErrTruncated
	}
	rest := data[offset:]

	f := &Frame{Header: h}

	if h.TypeFlags&FlagHasSequence != 0 {
		v, tail, err := readUint32(rest)
		if err != nil {
			return nil, err
		}
		f.HasSequence = true
		f.Sequence = int32(v)
		rest = tail
	}

	if h.TypeFlags&FlagHasEvent != 0 {
		v, tail, err := readUint32(rest)
		if err != nil {
			return nil, err
		}
		f.HasEvent = true
		f.EventID = EventID(int32(v))
		rest = tail

		if f.EventID.IsSessionLevel() {
			sid, tail2, err := readLengthPrefixedString(rest)
			if err != nil {
				return nil, err
			}
			f.SessionID = sid
			rest = tail2
		}
	}

	if h.MessageType == ErrorMessage {
		v, tail, err := readUint32(rest)
		if err != nil {
			return nil, err
		}
		f.ErrorCode = v
		rest = tail
	}

	payloadLen, tail, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	rest = tail
	if uint64(payloadLen) > uint64(len(rest)) {
		return nil, ErrTruncated
	}
	payload := rest[:payloadLen]

	if h.Compression == GzipCompression && len(payload) > 0 {
		payload, err = gzipDecompress(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: gzip decompress: %w", err)
		}
	}
	f.Payload = payload
	return f, nil
}

func marshalJSON(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return []byte("{}"), nil
		}
		return raw, nil
	}
	return json.Marshal(payload)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	if len(data) > 0 {
		buf.Write(data)
	}
}

func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, ErrTruncated
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

// readLengthPrefixedString mirrors the upstream's own decoder: the length
// prefix is read as a signed value and a non-positive length means "absent".
func readLengthPrefixedString(b []byte) (string, []byte, error) {
	n, tail, err := readUint32(b)
	if err != nil {
		return "", nil, err
	}
	size := int32(n)
	if size <= 0 {
		return "", tail, nil
	}
	if int(size) > len(tail) {
		return "", nil, ErrTruncated
	}
	return string(tail[:size]), tail[size:], nil
}
