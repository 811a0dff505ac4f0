package netsource

import (
	"context"
	"net/netip"
	"path"
	"slices"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// Interface is the subset of a host network interface the pollers look at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	// Addrs holds addresses in CIDR or plain form, e.g. "192.168.1.5/24".
	Addrs []string
}

// Lister enumerates host network interfaces.
type Lister func(ctx context.Context) ([]Interface, error)

// HostInterfaces lists the host's interfaces through gopsutil.
func HostInterfaces(ctx context.Context) ([]Interface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(stats))
	for _, st := range stats {
		iface := Interface{
			Name:     st.Name,
			Up:       slices.Contains(st.Flags, "up"),
			Loopback: slices.Contains(st.Flags, "loopback"),
			Addrs:    make([]string, 0, len(st.Addrs)),
		}
		for _, a := range st.Addrs {
			iface.Addrs = append(iface.Addrs, a.Addr)
		}
		out = append(out, iface)
	}
	return out, nil
}

// usable reports whether iface provides a network path: it must be up,
// not loopback, not ignored, and carry at least one routable unicast
// address. Link-local addresses alone do not count.
func usable(iface Interface, ignore []string) bool {
	if !iface.Up || iface.Loopback || iface.Name == "" {
		return false
	}
	if ignored(iface.Name, ignore) {
		return false
	}
	for _, a := range iface.Addrs {
		addr, ok := parseAddr(a)
		if !ok {
			continue
		}
		if addr.IsGlobalUnicast() && !addr.IsLinkLocalUnicast() {
			return true
		}
	}
	return false
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func parseAddr(s string) (netip.Addr, bool) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Addr(), true
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr, true
	}
	return netip.Addr{}, false
}

// usableSet reduces a listing to the names of usable interfaces.
func usableSet(ifaces []Interface, ignore []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ifaces))
	for _, iface := range ifaces {
		if usable(iface, ignore) {
			set[iface.Name] = struct{}{}
		}
	}
	return set
}
