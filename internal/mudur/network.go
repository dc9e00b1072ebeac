package mudur

import (
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// setupLocalhost brings up the loopback interface with its canonical
// address and route. Anything failing here is warned about and skipped,
// a broken loopback degrades services but must not block the boot.
func (m *Mudur) setupLocalhost() Outcome {
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		m.ui.Warn(fmt.Sprintf("Cannot find loopback interface: %s", err.Error()))
		return OutcomeCompleted
	}

	addr, err := netlink.ParseAddr("127.0.0.1/8")
	if err == nil {
		if err := netlink.AddrAdd(lo, addr); err != nil && !errors.Is(err, unix.EEXIST) {
			m.ui.Warn(fmt.Sprintf("Cannot set loopback address: %s", err.Error()))
		}
	}

	if err := netlink.LinkSetUp(lo); err != nil {
		m.ui.Warn(fmt.Sprintf("Cannot bring loopback up: %s", err.Error()))
		return OutcomeCompleted
	}

	route := &netlink.Route{
		LinkIndex: lo.Attrs().Index,
		Dst: &net.IPNet{
			IP:   net.IPv4(127, 0, 0, 0),
			Mask: net.CIDRMask(8, 32),
		},
		Gw: net.IPv4(127, 0, 0, 1),
	}
	if err := netlink.RouteAdd(route); err != nil && !errors.Is(err, unix.EEXIST) {
		m.ui.Warn(fmt.Sprintf("Cannot add loopback route: %s", err.Error()))
	}
	return OutcomeCompleted
}
