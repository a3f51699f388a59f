// +build !linux

package netloop

import (
	"errors"
	"net"
)

// errEIO never matches on non-Linux platforms, which have no GSO
// segmentation path to fall back from.
var errEIO = errors.New("netloop: EIO (unused on this platform)")

// GSO/GRO are Linux-specific UDP socket options (UDP_SEGMENT/UDP_GRO);
// every other platform this package runs on (spec §4.6 covers both
// Unix-select and Windows-overlapped-I/O targets) simply never offers
// them, so every send/receive falls back to one segment per syscall.

func gsoGloballyDisabled() bool { return true }

func disableGSOGlobally() {}

func probeGSO(conn *net.UDPConn, isIPv6 bool) bool { return false }

func probeGRO(conn *net.UDPConn, isIPv6 bool) bool { return false }

// gsoControlMessage/groSegmentSize have no non-Linux realization: GSO
// coalescing never kicks in here because probeGSO always reports
// false, and a receive OOB buffer on these platforms never carries a
// UDP_GRO cmsg to look for.
func gsoControlMessage(segmentSize int) []byte { return nil }

func groSegmentSize(oob []byte) (int, bool) { return 0, false }
