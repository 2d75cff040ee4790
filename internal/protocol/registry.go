package protocol

import "fmt"

// Registry maps packet identifiers to packet types, separately for client
// (inbound) and server (outbound) packets. It is populated once before the
// server starts accepting traffic.
type Registry struct {
	client map[byte]ClientPacketFactory
	server map[ServerPacketKind]byte
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		client: make(map[byte]ClientPacketFactory),
		server: make(map[ServerPacketKind]byte),
	}
}

// NewDefaultRegistry creates a registry with the Multisnake packet tables.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()

	if err := r.RegisterClientPacket(PktClientLogin, ReadLoginPacket); err != nil {
		return nil, err
	}
	if err := r.RegisterClientPacket(PktClientReady, ReadReadyPacket); err != nil {
		return nil, err
	}

	r.RegisterServerPacket(KindError, PktServerError)
	r.RegisterServerPacket(KindLoginSuccess, PktServerLoginSuccess)
	r.RegisterServerPacket(KindGameStart, PktServerGameStart)

	return r, nil
}

// RegisterClientPacket binds a client packet identifier to its factory.
// Binding an identifier twice is a configuration error.
func (r *Registry) RegisterClientPacket(id byte, factory ClientPacketFactory) error {
	if factory == nil {
		return &RegistrationError{Identifier: id, Err: fmt.Errorf("nil factory")}
	}
	if _, exists := r.client[id]; exists {
		return &RegistrationError{Identifier: id, Err: ErrDuplicateIdentifier}
	}
	r.client[id] = factory
	return nil
}

// RegisterServerPacket assigns an identifier to a server packet kind.
// The last registration for a kind wins.
func (r *Registry) RegisterServerPacket(kind ServerPacketKind, id byte) {
	r.server[kind] = id
}

// Factory returns the client packet factory bound to id.
func (r *Registry) Factory(id byte) (ClientPacketFactory, bool) {
	f, ok := r.client[id]
	return f, ok
}

// Identifier returns the identifier assigned to a server packet kind.
func (r *Registry) Identifier(kind ServerPacketKind) (byte, bool) {
	id, ok := r.server[kind]
	return id, ok
}

// Decoded is the outcome of decoding one client packet. Packet is nil when
// the identifier is not registered.
type Decoded struct {
	Identifier byte
	Packet     ClientPacket
}

// Known reports whether the identifier resolved to a packet type.
func (d Decoded) Known() bool { return d.Packet != nil }

// Decode reads a packet identifier and the payload that follows it.
// An unregistered identifier is not an error: the result is simply not Known.
func (r *Registry) Decode(msg *Message) (Decoded, error) {
	id, err := msg.GetByte()
	if err != nil {
		return Decoded{}, err
	}

	factory, ok := r.client[id]
	if !ok {
		return Decoded{Identifier: id}, nil
	}

	packet, err := factory(msg)
	if err != nil {
		return Decoded{Identifier: id}, err
	}
	return Decoded{Identifier: id, Packet: packet}, nil
}

// Encode writes the identifier of packet followed by its payload.
// Nothing is written when the packet kind is not registered.
func (r *Registry) Encode(msg *Message, packet ServerPacket) error {
	id, ok := r.server[packet.Kind()]
	if !ok {
		return &UnregisteredPacketError{Kind: packet.Kind()}
	}
	if err := msg.PutByte(id); err != nil {
		return err
	}
	return packet.Write(msg)
}
