package netmon

import (
	"errors"
	"testing"
	"time"

	"github.com/jsimonetti/rtnetlink"
)

type fakeLinkLister struct {
	links  []rtnetlink.LinkMessage
	err    error
	closed bool
}

func (f *fakeLinkLister) List() ([]rtnetlink.LinkMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.links, nil
}

func (f *fakeLinkLister) Close() error {
	f.closed = true
	return nil
}

func withFakeDialer(t *testing.T, conn linkLister, dialErr error) {
	t.Helper()
	prev := dialRTNetlink
	dialRTNetlink = func() (linkLister, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	}
	t.Cleanup(func() { dialRTNetlink = prev })
}

func linkFor(name string, rx, tx uint64) rtnetlink.LinkMessage {
	return rtnetlink.LinkMessage{
		Attributes: &rtnetlink.LinkAttributes{
			Name:    name,
			Stats64: &rtnetlink.LinkStats64{RXPackets: rx, TXPackets: tx},
		},
	}
}

func TestNetlinkIOPSSource_FirstCallReturnsZero(t *testing.T) {
	fake := &fakeLinkLister{links: []rtnetlink.LinkMessage{linkFor("eth0", 100, 50)}}
	withFakeDialer(t, fake, nil)

	src := &NetlinkIOPSSource{Interface: "eth0"}
	if got := src.IOPS(time.Second); got != 0 {
		t.Fatalf("first call: IOPS = %d, want 0", got)
	}
}

func TestNetlinkIOPSSource_Delta(t *testing.T) {
	calls := 0
	prev := dialRTNetlink
	dialRTNetlink = func() (linkLister, error) {
		calls++
		if calls == 1 {
			return &fakeLinkLister{links: []rtnetlink.LinkMessage{linkFor("eth0", 100, 50)}}, nil
		}
		return &fakeLinkLister{links: []rtnetlink.LinkMessage{linkFor("eth0", 300, 150)}}, nil
	}
	t.Cleanup(func() { dialRTNetlink = prev })

	src := &NetlinkIOPSSource{Interface: "eth0"}
	src.IOPS(time.Second)
	got := src.IOPS(time.Second)
	if got != 300 {
		t.Fatalf("IOPS = %d, want 300", got)
	}
}

func TestNetlinkIOPSSource_DialErrorReturnsZero(t *testing.T) {
	withFakeDialer(t, nil, errors.New("netlink socket unavailable"))

	src := &NetlinkIOPSSource{Interface: "eth0"}
	if got := src.IOPS(time.Second); got != 0 {
		t.Fatalf("IOPS on dial error = %d, want 0", got)
	}
}

func TestNetlinkIOPSSource_InterfaceNotFoundReturnsZero(t *testing.T) {
	fake := &fakeLinkLister{links: []rtnetlink.LinkMessage{linkFor("eth1", 100, 50)}}
	withFakeDialer(t, fake, nil)

	src := &NetlinkIOPSSource{Interface: "eth0"}
	if got := src.IOPS(time.Second); got != 0 {
		t.Fatalf("IOPS for missing interface = %d, want 0", got)
	}
}
