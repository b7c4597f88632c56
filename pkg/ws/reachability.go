package ws

import (
	"net"
	"time"
)

// Reachability сообщает, есть ли сейчас активный сетевой путь.
type Reachability interface {
	IsReachable() bool
}

type ReachabilityFunc func() bool

func (f ReachabilityFunc) IsReachable() bool {
	return f()
}

var AlwaysReachable Reachability = ReachabilityFunc(func() bool { return true })

// InterfaceReachability считает сеть доступной, если есть поднятый
// не-loopback интерфейс с глобальным unicast адресом.
type InterfaceReachability struct{}

func (InterfaceReachability) IsReachable() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		if iface.Flags&net.FlagRunning == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if globalUnicast(addr) {
				return true
			}
		}
	}

	return false
}

func globalUnicast(addr net.Addr) bool {
	var ip net.IP

	switch a := addr.(type) {
	case *net.IPNet:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	}

	return ip != nil && ip.IsGlobalUnicast()
}

// DialReachability проверяет доступность TCP соединением с Address.
type DialReachability struct {
	Address string
	Timeout time.Duration
}

func (d DialReachability) IsReachable() bool {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	conn, err := net.DialTimeout("tcp", d.Address, timeout)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}
