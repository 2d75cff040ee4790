// Package protocol implements the binary lobby protocol spoken between
// Multisnake clients and the server. Every packet is a one-byte type
// identifier followed by a type-specific payload; all multi-byte fields use
// big-endian byte order.
package protocol

import "fmt"

// Client (inbound) packet identifiers.
const (
	PktClientLogin byte = 0x00 // Login with username
	PktClientReady byte = 0x01 // Ready flag toggle
)

// Server (outbound) packet identifiers.
const (
	PktServerError        byte = 0x00 // Error with code
	PktServerLoginSuccess byte = 0x01 // Login accepted
	PktServerGameStart    byte = 0x02 // Game session begins
)

// DefaultBufferSize is the capacity of the per-connection input and output buffers.
const DefaultBufferSize = 256

// ErrorCode is the payload of an error packet.
type ErrorCode byte

const (
	ErrorInvalidPacketIdentifier ErrorCode = 0x00
	ErrorUsernameTaken           ErrorCode = 0x01
)

var errorCodeStrings = map[ErrorCode]string{
	ErrorInvalidPacketIdentifier: "invalid_packet_identifier",
	ErrorUsernameTaken:           "username_taken",
}

// String returns the lowercase name of the error code.
func (c ErrorCode) String() string {
	if s, ok := errorCodeStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("error_0x%02X", byte(c))
}

// ---- Client packets ----

// ClientPacket is a decoded client to server packet. Apply dispatches the
// packet to the matching listener capability.
type ClientPacket interface {
	Apply(listener PacketListener)
}

// ClientPacketFactory decodes the payload of one client packet type.
type ClientPacketFactory func(msg *Message) (ClientPacket, error)

// LoginPacket asks the server to authenticate the connection under a username.
type LoginPacket struct {
	Username string
}

// Apply calls OnLogin.
func (p *LoginPacket) Apply(l PacketListener) { l.OnLogin(p) }

// ReadLoginPacket decodes a login packet payload.
func ReadLoginPacket(msg *Message) (ClientPacket, error) {
	username, err := msg.GetString()
	if err != nil {
		return nil, err
	}
	return &LoginPacket{Username: username}, nil
}

// ReadyPacket sets the sender's ready flag.
type ReadyPacket struct {
	Ready bool
}

// Apply calls OnReady.
func (p *ReadyPacket) Apply(l PacketListener) { l.OnReady(p) }

// ReadReadyPacket decodes a ready packet payload.
func ReadReadyPacket(msg *Message) (ClientPacket, error) {
	ready, err := msg.GetBool()
	if err != nil {
		return nil, err
	}
	return &ReadyPacket{Ready: ready}, nil
}

// ---- Server packets ----

// ServerPacketKind tags each server packet type for the outbound registry.
type ServerPacketKind int

const (
	KindError ServerPacketKind = iota
	KindLoginSuccess
	KindGameStart
)

var serverPacketKindStrings = map[ServerPacketKind]string{
	KindError:        "error",
	KindLoginSuccess: "login_success",
	KindGameStart:    "game_start",
}

// String returns the name of the packet kind.
func (k ServerPacketKind) String() string {
	if s, ok := serverPacketKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("kind_%d", int(k))
}

// ServerPacket is a server to client packet.
type ServerPacket interface {
	Kind() ServerPacketKind
	Write(msg *Message) error
}

// ErrorPacket reports a protocol or application error to the client.
type ErrorPacket struct {
	Code ErrorCode
}

func (ErrorPacket) Kind() ServerPacketKind { return KindError }

// Write encodes the error code.
// Format: [code:1]
func (p ErrorPacket) Write(msg *Message) error {
	return msg.PutByte(byte(p.Code))
}

// LoginSuccessPacket confirms a login. It has no payload.
type LoginSuccessPacket struct{}

func (LoginSuccessPacket) Kind() ServerPacketKind { return KindLoginSuccess }
func (LoginSuccessPacket) Write(*Message) error  { return nil }

// GameStartPacket signals that the game session begins. It has no payload.
type GameStartPacket struct{}

func (GameStartPacket) Kind() ServerPacketKind { return KindGameStart }
func (GameStartPacket) Write(*Message) error  { return nil }
