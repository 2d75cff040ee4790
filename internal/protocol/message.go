package protocol

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Message is a cursor over a packet's bytes. A reader walks data that was
// received; a writer fills a buffer of fixed capacity. Every operation is
// bounds checked and reports failures as *DecodeError or *EncodeError.
type Message struct {
	buf   []byte
	pos   int
	limit int
}

// NewReader returns a message that reads data from the start.
func NewReader(data []byte) *Message {
	return &Message{buf: data, limit: len(data)}
}

// NewWriter returns a message that writes into a new buffer of the given capacity.
func NewWriter(capacity int) *Message {
	return NewWriterBuffer(make([]byte, capacity))
}

// NewWriterBuffer returns a message that writes into buf. The capacity is len(buf).
func NewWriterBuffer(buf []byte) *Message {
	return &Message{buf: buf, limit: len(buf)}
}

// Reset moves the cursor back to the start. Written bytes are discarded.
func (m *Message) Reset() {
	m.pos = 0
}

// Position returns the cursor offset.
func (m *Message) Position() int { return m.pos }

// Len returns the number of bytes read or written so far.
func (m *Message) Len() int { return m.pos }

// Remaining returns the bytes left before the limit.
func (m *Message) Remaining() int { return m.limit - m.pos }

// Bytes returns the written region. The slice aliases the message buffer and
// is only valid until the next write or Reset.
func (m *Message) Bytes() []byte { return m.buf[:m.pos] }

func (m *Message) take(n int, field Field, offset int) ([]byte, error) {
	if n > m.Remaining() {
		return nil, &DecodeError{Field: field, Offset: offset, Err: ErrUnderflow}
	}
	b := m.buf[m.pos : m.pos+n]
	m.pos += n
	return b, nil
}

func (m *Message) reserve(n int, field Field) ([]byte, error) {
	if n > m.Remaining() {
		return nil, &EncodeError{Field: field, Offset: m.pos, Err: ErrOverflow}
	}
	b := m.buf[m.pos : m.pos+n]
	m.pos += n
	return b, nil
}

// GetByte reads one byte.
func (m *Message) GetByte() (byte, error) {
	b, err := m.take(1, FieldByte, m.pos)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// GetBytes reads exactly n bytes into a new slice.
func (m *Message) GetBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, &DecodeError{Field: FieldBytes, Offset: m.pos, Err: ErrNegativeLength}
	}
	b, err := m.take(n, FieldBytes, m.pos)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// GetBool reads one byte; any non-zero value is true.
func (m *Message) GetBool() (bool, error) {
	b, err := m.take(1, FieldBool, m.pos)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// GetInt reads a 4-byte big-endian signed integer.
func (m *Message) GetInt() (int32, error) {
	b, err := m.take(4, FieldInt, m.pos)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// GetLong reads an 8-byte big-endian signed integer.
func (m *Message) GetLong() (int64, error) {
	b, err := m.take(8, FieldLong, m.pos)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// GetString reads a UTF-8 string prefixed by its 4-byte byte length.
// On failure the cursor is restored to the start of the string.
func (m *Message) GetString() (string, error) {
	start := m.pos
	fail := func(err error) (string, error) {
		m.pos = start
		return "", &DecodeError{Field: FieldString, Offset: start, Err: err}
	}

	lb, err := m.take(4, FieldString, start)
	if err != nil {
		return fail(ErrUnderflow)
	}
	length := int32(binary.BigEndian.Uint32(lb))
	if length < 0 {
		return fail(ErrNegativeLength)
	}
	b, err := m.take(int(length), FieldString, start)
	if err != nil {
		return fail(ErrUnderflow)
	}
	if !utf8.Valid(b) {
		return fail(ErrInvalidUTF8)
	}
	return string(b), nil
}

// GetUUID reads the most significant long followed by the least significant long.
func (m *Message) GetUUID() (uuid.UUID, error) {
	b, err := m.take(16, FieldUUID, m.pos)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

// PutByte writes one byte.
func (m *Message) PutByte(v byte) error {
	b, err := m.reserve(1, FieldByte)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// PutBytes writes src as-is.
func (m *Message) PutBytes(src []byte) error {
	b, err := m.reserve(len(src), FieldBytes)
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// PutBool writes 1 for true and 0 for false.
func (m *Message) PutBool(v bool) error {
	b, err := m.reserve(1, FieldBool)
	if err != nil {
		return err
	}
	b[0] = 0
	if v {
		b[0] = 1
	}
	return nil
}

// PutInt writes a 4-byte big-endian signed integer.
func (m *Message) PutInt(v int32) error {
	b, err := m.reserve(4, FieldInt)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, uint32(v))
	return nil
}

// PutLong writes an 8-byte big-endian signed integer.
func (m *Message) PutLong(v int64) error {
	b, err := m.reserve(8, FieldLong)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, uint64(v))
	return nil
}

// PutString writes the UTF-8 bytes of s prefixed by their length.
func (m *Message) PutString(s string) error {
	if 4+len(s) > m.Remaining() {
		return &EncodeError{Field: FieldString, Offset: m.pos, Err: ErrOverflow}
	}
	b, _ := m.reserve(4+len(s), FieldString)
	binary.BigEndian.PutUint32(b, uint32(len(s)))
	copy(b[4:], s)
	return nil
}

// PutUUID writes id as two big-endian longs, most significant first.
func (m *Message) PutUUID(id uuid.UUID) error {
	b, err := m.reserve(16, FieldUUID)
	if err != nil {
		return err
	}
	copy(b, id[:])
	return nil
}
