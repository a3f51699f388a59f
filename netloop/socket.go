// Package netloop is the platform-adaptive UDP packet loop: it owns
// the sockets, probes for GSO/GRO support, batches sends and
// receives, and drives the session engine with a bounded-timeout wait
// primitive on a single goroutine (spec §4.6, §5).
//
// It is grounded on picoquic/sockloop.c's picoquic_packet_loop_v2 and,
// for the idiomatic Go realization of coalesced UDP I/O, on kcp-go's
// use of golang.org/x/net/ipv4 and ipv6 PacketConn batching.
package netloop

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ECN is an explicit congestion notification marking, carried on a
// packet's IP header (spec §4.6: "ECN marking").
type ECN byte

const (
	ECNUnmarked ECN = 0
	ECNECT1     ECN = 1
	ECNECT0     ECN = 2
	ECNCE       ECN = 3
)

// batchConn is the subset of ipv4.PacketConn / ipv6.PacketConn this
// package needs; both satisfy it, letting socket treat v4 and v6
// sockets identically everywhere but construction.
type batchConn interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

// socket wraps one UDP socket together with the ancillary-data-capable
// PacketConn view x/net provides over it, plus this socket's measured
// GSO/GRO capability (spec §4.6: "GSO (send-side) / GRO (receive-side
// coalescing)").
type socket struct {
	conn    *net.UDPConn
	batch   batchConn
	isIPv6  bool
	localAddr *net.UDPAddr

	gsoSupported bool
	groSupported bool
}

// openSocket binds a new UDP socket on addr (which may specify port 0
// for an ephemeral port, used by the NAT-rebind simulation) and wraps
// it for batched, ECN- and GSO/GRO-aware I/O (spec §4.6: steps
// "picoquic_packet_loop_open_socket").
func openSocket(addr *net.UDPAddr, recvBufferBytes, sendBufferBytes int) (*socket, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("netloop: open socket on %s: %w", addr, err)
	}

	isIPv6 := addr.IP == nil || addr.IP.To4() == nil

	s := &socket{conn: conn, isIPv6: isIPv6, localAddr: conn.LocalAddr().(*net.UDPAddr)}

	if isIPv6 {
		p := ipv6.NewPacketConn(conn)
		_ = p.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true)
		s.batch = p
	} else {
		p := ipv4.NewPacketConn(conn)
		_ = p.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true)
		s.batch = p
	}

	if recvBufferBytes > 0 {
		_ = conn.SetReadBuffer(recvBufferBytes)
	}
	if sendBufferBytes > 0 {
		_ = conn.SetWriteBuffer(sendBufferBytes)
	}

	s.gsoSupported = probeGSO(conn, isIPv6)
	s.groSupported = probeGRO(conn, isIPv6)

	return s, nil
}

func (s *socket) Close() error {
	return s.conn.Close()
}

// setECN sets the outgoing ECN codepoint for every packet subsequently
// sent on this socket (spec §4.6: "ECN marking").
func (s *socket) setECN(mark ECN) error {
	if s.isIPv6 {
		return ipv6.NewConn(s.conn).SetTrafficClass(int(mark))
	}
	// The low two bits of the TOS byte carry ECN; writing mark unshifted
	// leaves the DSCP bits (the upper six, kcp-go's "dscp << 2") at
	// zero.
	return ipv4.NewConn(s.conn).SetTOS(int(mark))
}
