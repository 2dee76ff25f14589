//go:build !linux && !windows

package region

import "net"

func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
