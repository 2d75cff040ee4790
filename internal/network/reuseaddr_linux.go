//go:build linux

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a listen config that sets SO_REUSEADDR
// before bind, so a restarted server can take the game port back while old
// sockets sit in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
