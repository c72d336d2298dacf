package netmon

import (
	"fmt"
	"sync"
	"time"

	"github.com/jsimonetti/rtnetlink"

	"github.com/netsplitcas/hybridcache/pkg/logx"
)

// linkLister is the subset of *rtnetlink.Conn this package depends on,
// so tests can substitute a fake without opening a real netlink socket.
type linkLister interface {
	List() ([]rtnetlink.LinkMessage, error)
	Close() error
}

// dialer opens a netlink connection. Overridden in tests.
var dialRTNetlink = func() (linkLister, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, err
	}
	return &rtnetlinkConn{conn: conn}, nil
}

// rtnetlinkConn adapts *rtnetlink.Conn (whose link operations live on
// the Link service) to the flat linkLister this package consumes.
type rtnetlinkConn struct {
	conn *rtnetlink.Conn
}

func (c *rtnetlinkConn) List() ([]rtnetlink.LinkMessage, error) {
	return c.conn.Link.List()
}

func (c *rtnetlinkConn) Close() error {
	return c.conn.Close()
}

// NetlinkIOPSSource computes a device-level IOPS diagnostic by summing
// RX+TX packet counters for one network interface over rtnetlink,
// avoiding a round trip through a stats-file parse.
type NetlinkIOPSSource struct {
	Interface string

	mu          sync.Mutex
	initialized bool
	prevPackets uint64
}

// IOPS returns the packet-rate delta for Interface since the previous
// call. Any netlink error (device gone, permission denied, socket
// failure) yields 0 and leaves the baseline untouched.
func (s *NetlinkIOPSSource) IOPS(elapsed time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	packets, err := s.readPacketCount()
	if err != nil {
		logx.Logger.Debug().Err(err).Str("iface", s.Interface).Msg("netmon: rtnetlink read failed")
		return 0
	}

	if !s.initialized {
		s.prevPackets = packets
		s.initialized = true
		return 0
	}

	if packets < s.prevPackets || elapsed <= 0 {
		s.prevPackets = packets
		return 0
	}

	delta := packets - s.prevPackets
	s.prevPackets = packets
	return uint64(float64(delta) / elapsed.Seconds())
}

func (s *NetlinkIOPSSource) readPacketCount() (uint64, error) {
	conn, err := dialRTNetlink()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	links, err := conn.List()
	if err != nil {
		return 0, err
	}

	for _, link := range links {
		if link.Attributes == nil || link.Attributes.Name != s.Interface {
			continue
		}
		stats := link.Attributes.Stats64
		if stats == nil {
			return 0, nil
		}
		return stats.RXPackets + stats.TXPackets, nil
	}
	return 0, fmt.Errorf("netmon: interface %q not found", s.Interface)
}
