//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config on platforms where
// the socket option is not set explicitly.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
