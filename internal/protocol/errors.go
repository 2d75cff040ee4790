package protocol

import (
	"errors"
	"fmt"
)

// Field identifies the wire type a codec operation was working on.
type Field int

const (
	FieldByte Field = iota
	FieldBytes
	FieldBool
	FieldInt
	FieldLong
	FieldString
	FieldUUID
)

var fieldStrings = map[Field]string{
	FieldByte:   "byte",
	FieldBytes:  "byte array",
	FieldBool:   "bool",
	FieldInt:    "int",
	FieldLong:   "long",
	FieldString: "string",
	FieldUUID:   "uuid",
}

// String returns the name of the field type.
func (f Field) String() string {
	if s, ok := fieldStrings[f]; ok {
		return s
	}
	return "unknown"
}

var (
	// ErrUnderflow is reported when a read needs more bytes than remain.
	ErrUnderflow = errors.New("buffer underflow")
	// ErrOverflow is reported when a write does not fit the fixed capacity.
	ErrOverflow = errors.New("buffer overflow")
	// ErrNegativeLength is reported for a string with a negative length prefix.
	ErrNegativeLength = errors.New("negative length prefix")
	// ErrInvalidUTF8 is reported for string bytes that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")

	// ErrDuplicateIdentifier is returned when a client packet identifier is bound twice.
	ErrDuplicateIdentifier = errors.New("client packet identifier already registered")
	// ErrUnregisteredPacket is returned when a server packet kind has no identifier.
	ErrUnregisteredPacket = errors.New("server packet not registered")
)

// DecodeError describes a field that could not be read from a packet message.
type DecodeError struct {
	Field  Field
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("expected %s at position %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError describes a field that could not be written to a packet message.
type EncodeError struct {
	Field  Field
	Offset int
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot write %s at position %d: %v", e.Field, e.Offset, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// RegistrationError is a packet table misconfiguration. It is never caused by
// network input.
type RegistrationError struct {
	Identifier byte
	Err        error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("packet registry: identifier 0x%02X: %v", e.Identifier, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// UnregisteredPacketError is returned when encoding a server packet whose kind
// was never registered. It indicates a code defect, not bad input.
type UnregisteredPacketError struct {
	Kind ServerPacketKind
}

func (e *UnregisteredPacketError) Error() string {
	return fmt.Sprintf("packet registry: %s: %v", e.Kind, ErrUnregisteredPacket)
}

func (e *UnregisteredPacketError) Unwrap() error { return ErrUnregisteredPacket }
