package protocol

// PacketListener is the protocol state attached to a connection. It receives
// decoded client packets and the disconnect notification.
type PacketListener interface {
	OnLogin(packet *LoginPacket)
	OnReady(packet *ReadyPacket)
	OnDisconnect()
}

// NopListener ignores everything. Embed it to get no-op defaults for the
// capabilities a state does not react to.
type NopListener struct{}

func (NopListener) OnLogin(*LoginPacket) {}
func (NopListener) OnReady(*ReadyPacket) {}
func (NopListener) OnDisconnect()        {}

// StateName reports "none" for connections without a protocol state.
func (NopListener) StateName() string { return "none" }

// Ignore is the listener used when a connection has no state assigned.
var Ignore PacketListener = NopListener{}

// StateNamer is implemented by listeners that can name their protocol state.
type StateNamer interface {
	StateName() string
}

// StateName returns the state name of l, or "unknown".
func StateName(l PacketListener) string {
	if n, ok := l.(StateNamer); ok {
		return n.StateName()
	}
	return "unknown"
}
