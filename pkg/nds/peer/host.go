package peer

import "net"

// localIPv4Interfaces collects the IPv4 addresses bound to this host, used
// to tell a self-originated multicast heartbeat apart from a foreign one
// (spec.md §3 "host_interfaces", §4.5.2).
func localIPv4Interfaces() (map[string]bool, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			set[ip4.String()] = true
		}
	}
	return set, nil
}
