// +build linux

package netloop

import (
	"encoding/binary"
	"net"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// errEIO is the error a batched send reports when the kernel rejects a
// GSO-segmented datagram it would otherwise accept unsegmented (spec
// §4.6: "EIO -> per-segment retry + permanent GSO disable").
var errEIO = unix.EIO

// udpGSOAvailable mirrors picoquic's global udp_gso_available: a
// process-wide flag that only ever falls from "supported" to
// "unsupported" once a real send reports EIO, never the reverse (spec
// §4.6: "GSO capability ... monotonically falling after a send
// failure").
var udpGSOAvailable int32 = 1

const (
	udpSegment = 103 // UDP_SEGMENT
	udpGRO     = 104 // UDP_GRO
)

func gsoGloballyDisabled() bool {
	return atomic.LoadInt32(&udpGSOAvailable) == 0
}

// disableGSOGlobally permanently turns off GSO for the process, called
// after a send returns EIO (spec §4.6: "EIO -> per-segment retry +
// permanent GSO disable").
func disableGSOGlobally() {
	atomic.StoreInt32(&udpGSOAvailable, 0)
}

// probeGSO reports whether the kernel accepts the UDP_SEGMENT socket
// option on conn, the Linux mechanism batched sends use to ask the
// kernel to split one large datagram into multiple same-sized segments
// on the wire (spec §4.6: "GSO (generic segmentation offload,
// send-side)").
func probeGSO(conn *net.UDPConn, isIPv6 bool) bool {
	if gsoGloballyDisabled() {
		return false
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return false
	}
	var ok bool
	_ = raw.Control(func(fd uintptr) {
		ok = unix.SetsockoptInt(int(fd), unix.IPPROTO_UDP, udpSegment, 1452) == nil
	})
	return ok
}

// probeGRO reports whether the kernel accepts UDP_GRO, the receive-side
// counterpart that coalesces several incoming datagrams from the same
// peer into one larger read (spec §4.6: "GRO (receive-side
// coalescing)").
func probeGRO(conn *net.UDPConn, isIPv6 bool) bool {
	raw, err := conn.SyscallConn()
	if err != nil {
		return false
	}
	var ok bool
	_ = raw.Control(func(fd uintptr) {
		ok = unix.SetsockoptInt(int(fd), unix.IPPROTO_UDP, udpGRO, 1) == nil
	})
	return ok
}

// gsoControlMessage builds the cmsg UDP_SEGMENT carries on a coalesced
// send: level IPPROTO_UDP, type UDP_SEGMENT, a single uint16 payload
// naming the per-segment size the kernel should split the write into
// on the wire (spec §4.6: "a segment-size ancillary for GSO").
func gsoControlMessage(segmentSize int) []byte {
	b := make([]byte, unix.CmsgSpace(2))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = unix.IPPROTO_UDP
	h.Type = udpSegment
	h.SetLen(unix.CmsgLen(2))
	binary.LittleEndian.PutUint16(b[unix.CmsgLen(0):], uint16(segmentSize))
	return b
}

// groSegmentSize reports the per-segment size the kernel coalesced a
// receive into, if the UDP_GRO cmsg is present (spec §4.6: "walk the
// possibly coalesced receive buffer in segments of the coalesced
// segment size").
func groSegmentSize(oob []byte) (int, bool) {
	if len(oob) == 0 {
		return 0, false
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, false
	}
	for _, c := range cmsgs {
		if c.Header.Level == unix.IPPROTO_UDP && c.Header.Type == udpGRO && len(c.Data) >= 2 {
			return int(binary.LittleEndian.Uint16(c.Data)), true
		}
	}
	return 0, false
}
