package netloop

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/satlink/h3sat/handover"
)

// ErrTerminate is the sentinel a Callbacks method returns to request a
// clean shutdown of the loop, grounded on
// PICOQUIC_NO_ERROR_TERMINATE_PACKET_LOOP (spec §4.6: "graceful
// termination sentinels").
var ErrTerminate = errors.New("netloop: terminate packet loop")

// ErrSimulateNAT is the sentinel an AppCallbacks hook returns to request
// that the loop simulate a NAT rebind: the pre-opened extra socket is
// dropped from receive/send eligibility (while staying bound) so the
// next packets appear to originate from a new address/port mapping
// (spec §4.6: "simulate_nat — drop the extra socket from
// receive-eligibility while it remains bound").
var ErrSimulateNAT = errors.New("netloop: simulate NAT rebind")

// maxWait bounds how long a single wait-primitive call blocks before
// the loop re-checks for work, mirroring sockloop.c's 10-second
// timeval cap on its select() call (spec §4.6: "a bounded-timeout wait
// primitive").
const maxWait = 10 * time.Second

const batchSize = 16
const packetBufferSize = 1452 // matches the UDP_SEGMENT probe size

// Callbacks is what the packet loop drives: the session engine (or a
// test double standing in for one).
type Callbacks interface {
	// NextWakeup returns when the caller next wants to be woken even
	// without any packet arriving (e.g. for a timer-driven retransmit),
	// bounded internally to maxWait by the loop.
	NextWakeup() time.Time

	// OnPacket delivers one received datagram with its source address,
	// destination address (if the platform supplied it) and ECN mark.
	OnPacket(data []byte, from, to *net.UDPAddr, ecn ECN) error

	// OnTimeout fires when the wait primitive returns with nothing to
	// read by the deadline from NextWakeup.
	OnTimeout() error

	// PrepareNextPacket asks the caller to fill buf with the next
	// packet to send, returning the number of bytes written, the
	// destination, and whether there is nothing left to send right now.
	PrepareNextPacket(buf []byte) (n int, to *net.UDPAddr, hasMore bool, err error)
}

// AppCallbacks is the application-level hook contract spec §6 describes
// as sitting above the session engine: a host process may register any
// subset of {ready, port_update, after_receive, after_send, time_check}
// to observe or steer the loop. Every field is optional; a nil hook is
// simply skipped. Run interprets the error returned by TimeCheck,
// AfterReceive and AfterSend the same way: nil continues the loop,
// ErrTerminate stops it cleanly, and ErrSimulateNAT triggers the
// NAT-rebind simulation before continuing; any other error is fatal and
// propagates out of Run. Any non-nil error from Ready or PortUpdate,
// the sentinels included, makes Open close its sockets and return that
// error.
type AppCallbacks struct {
	// Ready fires once, from Open, after every configured socket is
	// bound and before Run's first iteration (spec §4.6 step 0: "ready
	// — sockets are bound").
	Ready func() error

	// PortUpdate fires once, from Open, immediately after Ready, with
	// the primary socket's actual bound port — the caller's only way to
	// learn an ephemeral port it asked the OS to choose (spec §8
	// end-to-end scenario 6: "port_update reports the bound ephemeral
	// port").
	PortUpdate func(port int) error

	// AfterReceive fires once per Run iteration that delivered at least
	// one packet to Callbacks.OnPacket, after the receive side has
	// fully drained. The iteration then goes on to drainSends; the loop
	// never skips the send phase after a receive.
	AfterReceive func() error

	// AfterSend fires once per Run iteration, after drainSends
	// completes, whether or not anything was actually sent (spec §4.6
	// step 5: "invoke after_send").
	AfterSend func() error

	// TimeCheck fires once per Run iteration before the wait primitive
	// blocks, given the current time and the wait duration the loop
	// computed from NextWakeup; it may return a replacement wait
	// duration (e.g. to shorten it) alongside its error result (spec
	// §4.6: "time_check may adjust the wait interval").
	TimeCheck func(now time.Time, wait time.Duration) (time.Duration, error)
}

// Loop is the packet loop itself: N local sockets (normally one, two
// during the NAT-rebind simulation), each read via a GSO/GRO-aware
// batch, feeding a single Callbacks implementation from one goroutine
// (spec §5: "the only blocking point is the OS wait primitive").
type Loop struct {
	sockets    []*socket // receive/send-eligible sockets
	allSockets []*socket // every socket ever opened, for Close
	cb         Callbacks
	app        AppCallbacks

	extraSocket     *socket
	natSimSimulated bool

	requireHandoverWindow bool
	handoverChecker       handover.Checker
}

// Config configures Open.
type Config struct {
	LocalAddr       *net.UDPAddr
	RecvBufferBytes int
	SendBufferBytes int

	// ExtraSocketRequired, if true, opens a second ephemeral-port socket
	// on the same address at Open time and keeps it bound for the life
	// of the loop, ready for the NAT-rebind simulation (spec §4.6:
	// "extra_socket_required — a second socket is pre-opened so the
	// simulated rebind never has to open one under callback pressure").
	// The simulation itself only fires when an AppCallbacks hook returns
	// ErrSimulateNAT; this flag only reserves the socket.
	ExtraSocketRequired bool

	// RequireHandoverWindow restricts the NAT-rebind simulation to take
	// effect only inside a satellite-link handover window (the
	// {12,27,42,57} seconds-of-minute check, see the handover package);
	// when false, an ErrSimulateNAT signal always takes effect
	// immediately.
	RequireHandoverWindow bool
	HandoverMargin        time.Duration
}

// Open binds the loop's primary socket (and, if configured, the
// pre-opened NAT-simulation secondary socket), invokes app.Ready and
// app.PortUpdate, and returns a Loop ready for Run.
func Open(cfg Config, cb Callbacks, app AppCallbacks) (*Loop, error) {
	primary, err := openSocket(cfg.LocalAddr, cfg.RecvBufferBytes, cfg.SendBufferBytes)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		sockets:               []*socket{primary},
		allSockets:            []*socket{primary},
		cb:                    cb,
		app:                   app,
		requireHandoverWindow: cfg.RequireHandoverWindow,
		handoverChecker:       handover.Checker{Margin: cfg.HandoverMargin},
	}

	if cfg.ExtraSocketRequired {
		addr := &net.UDPAddr{IP: primary.localAddr.IP, Port: 0}
		extra, err := openSocket(addr, 0, 0)
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		l.extraSocket = extra
		l.sockets = append(l.sockets, extra)
		l.allSockets = append(l.allSockets, extra)
	}

	if l.app.Ready != nil {
		if err := l.app.Ready(); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	if l.app.PortUpdate != nil {
		if err := l.app.PortUpdate(primary.localAddr.Port); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	return l, nil
}

// Close closes every socket the loop ever opened, including the extra
// NAT-simulation socket after it has been dropped from l.sockets.
func (l *Loop) Close() error {
	var first error
	for _, s := range l.allSockets {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run drives the loop until ctx is cancelled, a callback returns
// ErrTerminate, or an unrecoverable error occurs (spec §4.6 steps 1-5:
// wait for readiness, receive and dispatch, compute next send time,
// prepare and send, repeat).
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		wake := l.cb.NextWakeup()
		wait := time.Until(wake)
		if wake.IsZero() || wait > maxWait {
			wait = maxWait
		}
		if wait < 0 {
			wait = 0
		}

		if l.app.TimeCheck != nil {
			adjusted, err := l.app.TimeCheck(time.Now(), wait)
			stop, ferr := l.runCallback(err)
			if ferr != nil {
				return ferr
			}
			if stop {
				return nil
			}
			wait = adjusted
		}

		gotPacket, err := l.waitAndReceive(ctx, wait)
		if err != nil {
			if errors.Is(err, ErrTerminate) {
				return nil
			}
			return err
		}
		if gotPacket {
			if l.app.AfterReceive != nil {
				stop, ferr := l.runCallback(l.app.AfterReceive())
				if ferr != nil {
					return ferr
				}
				if stop {
					return nil
				}
			}
		} else {
			if err := l.cb.OnTimeout(); err != nil {
				if errors.Is(err, ErrTerminate) {
					return nil
				}
				return err
			}
		}

		if err := l.drainSends(); err != nil {
			if errors.Is(err, ErrTerminate) {
				return nil
			}
			return err
		}

		if l.app.AfterSend != nil {
			stop, ferr := l.runCallback(l.app.AfterSend())
			if ferr != nil {
				return ferr
			}
			if stop {
				return nil
			}
		}
	}
}

// runCallback interprets the three-way contract every AppCallbacks hook
// shares: nil continues, ErrTerminate requests a clean stop,
// ErrSimulateNAT triggers the NAT-rebind simulation and continues, and
// any other error is fatal.
func (l *Loop) runCallback(err error) (stop bool, fatal error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrTerminate) {
		return true, nil
	}
	if errors.Is(err, ErrSimulateNAT) {
		l.simulateNAT()
		return false, nil
	}
	return false, err
}

// waitAndReceive blocks for at most wait for any socket to become
// readable, then drains every ready socket with a batched read. It
// returns whether at least one packet was delivered to the callback.
//
// Real select()/overlapped-I/O semantics are replaced here by Go's
// per-connection read deadline, the idiomatic cross-platform substitute
// net.PacketConn already provides (spec §9 Open Question: "the exact
// select()-call-site API is not portable Go; a deadline-based wait is
// the natural replacement and is adopted here").
func (l *Loop) waitAndReceive(ctx context.Context, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)

	var g errgroup.Group
	results := make([]bool, len(l.sockets))
	for i, s := range l.sockets {
		i, s := i, s
		g.Go(func() error {
			_ = s.conn.SetReadDeadline(deadline)
			got, err := l.receiveFrom(s)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					return nil
				}
				return err
			}
			results[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, got := range results {
		if got {
			return true, nil
		}
	}
	return false, nil
}

func (l *Loop) receiveFrom(s *socket) (bool, error) {
	msgs := make([]ipv4.Message, batchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, packetBufferSize)}
		msgs[i].OOB = make([]byte, 128)
	}

	n, err := s.batch.ReadBatch(msgs, 0)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	got := false
	for i := 0; i < n; i++ {
		msg := msgs[i]
		from, _ := msg.Addr.(*net.UDPAddr)
		oob := msg.OOB[:msg.NN]
		ecn := parseECNFromOOB(oob)
		data := msg.Buffers[0][:msg.N]

		// GRO coalesces several same-size datagrams from one peer into a
		// single read; the kernel reports the per-segment size in the
		// UDP_GRO cmsg, and the buffer is walked as that many equal-sized
		// segments with a possibly shorter final one (spec §4.6 step 3).
		segSize, coalesced := groSegmentSize(oob)
		if !coalesced || segSize <= 0 || segSize >= len(data) {
			got = true
			if err := l.cb.OnPacket(data, from, s.localAddr, ecn); err != nil {
				return true, err
			}
			continue
		}
		for off := 0; off < len(data); off += segSize {
			end := off + segSize
			if end > len(data) {
				end = len(data)
			}
			got = true
			if err := l.cb.OnPacket(data[off:end], from, s.localAddr, ecn); err != nil {
				return true, err
			}
		}
	}
	return got, nil
}

// pendingSend is one packet PrepareNextPacket produced, buffered so
// consecutive same-size, same-destination packets can be coalesced
// into a single GSO send.
type pendingSend struct {
	data []byte
	to   *net.UDPAddr
}

// drainSends repeatedly calls PrepareNextPacket until it reports
// nothing left to send, then flushes the collected packets grouped by
// destination socket, coalescing consecutive equal-size runs to the
// same destination into one GSO send where the socket supports it
// (spec §4.6: "prepare_next_packet_ex loop selecting socket by
// address-family/port match", "a segment-size ancillary for GSO").
func (l *Loop) drainSends() error {
	var batch []pendingSend
	buf := make([]byte, packetBufferSize)
	for {
		n, to, hasMore, err := l.cb.PrepareNextPacket(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			batch = append(batch, pendingSend{data: cp, to: to})
		}
		if !hasMore {
			break
		}
	}
	return l.flushBatch(batch)
}

// flushBatch walks batch in order, grouping the maximal run of
// consecutive packets that share a destination and size onto the
// socket socketFor picks for that destination, and sends each group in
// one GSO write when the socket supports it and GSO hasn't been
// disabled for the process.
func (l *Loop) flushBatch(batch []pendingSend) error {
	for i := 0; i < len(batch); {
		sock := l.socketFor(batch[i].to)
		if sock == nil {
			sock = l.sockets[0]
		}
		size := len(batch[i].data)
		j := i + 1
		for j < len(batch) && sock.gsoSupported && !gsoGloballyDisabled() &&
			addrEqual(batch[j].to, batch[i].to) && len(batch[j].data) == size {
			j++
		}
		group := batch[i:j]
		var err error
		if len(group) > 1 {
			err = l.sendGSOGroup(sock, group)
		} else {
			err = l.sendOne(sock, group[0])
		}
		if err != nil {
			return err
		}
		i = j
	}
	return nil
}

// sendOne writes a single packet with a plain WriteToUDP, the fallback
// path for ungrouped sends and for each segment of a GSO group that
// hit EIO.
func (l *Loop) sendOne(sock *socket, p pendingSend) error {
	_, err := sock.conn.WriteToUDP(p.data, p.to)
	return err
}

// sendGSOGroup concatenates a run of equal-size packets bound for the
// same destination and sends them in a single coalesced write carrying
// the UDP_SEGMENT ancillary data (spec §4.6: "sendmsg ... optionally
// with a segment-size ancillary for GSO"). On EIO — the kernel
// rejecting the coalesced write — it disables GSO for the remainder of
// the process's life and retries the same packets individually (spec
// §4.6: "On EIO, retry the send in segments ... and permanently
// disable GSO for the loop").
func (l *Loop) sendGSOGroup(sock *socket, group []pendingSend) error {
	segSize := len(group[0].data)
	combined := make([]byte, 0, segSize*len(group))
	for _, p := range group {
		combined = append(combined, p.data...)
	}

	msgs := []ipv4.Message{{
		Buffers: [][]byte{combined},
		Addr:    group[0].to,
		OOB:     gsoControlMessage(segSize),
	}}
	_, err := sock.batch.WriteBatch(msgs, 0)
	if err == nil {
		return nil
	}
	if !isEIO(err) {
		return err
	}

	disableGSOGlobally()
	for _, p := range group {
		if err := l.sendOne(sock, p); err != nil {
			return err
		}
	}
	return nil
}

// addrEqual reports whether a and b name the same UDP endpoint, nil-safe.
func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}

// socketFor picks the socket whose IP version matches to, preferring
// the most recently opened eligible socket of that family (the extra
// NAT-simulation socket, until simulateNAT drops it) — the
// realization of sockloop's "select socket by address-family/port
// match" for this package's simplified one-or-two-socket model.
func (l *Loop) socketFor(to *net.UDPAddr) *socket {
	if to == nil {
		return nil
	}
	wantV6 := to.IP.To4() == nil
	for i := len(l.sockets) - 1; i >= 0; i-- {
		if l.sockets[i].isIPv6 == wantV6 {
			return l.sockets[i]
		}
	}
	return nil
}

// simulateNAT drops the pre-opened extra socket from receive/send
// eligibility while leaving it bound, simulating a client's NAT mapping
// changing mid-connection (spec §4.6: "simulate_nat — drop the extra
// socket from receive-eligibility while it remains bound"). It is a
// no-op if no extra socket was reserved, if it was already dropped, or
// if RequireHandoverWindow is set and the current moment falls outside
// the handover window.
func (l *Loop) simulateNAT() {
	if l.extraSocket == nil || l.natSimSimulated {
		return
	}
	if l.requireHandoverWindow && !l.handoverChecker.InWindow(time.Now()) {
		return
	}
	for i, s := range l.sockets {
		if s == l.extraSocket {
			l.sockets = append(l.sockets[:i], l.sockets[i+1:]...)
			break
		}
	}
	l.natSimSimulated = true
}

func isEIO(err error) bool {
	return errors.Is(err, errEIO)
}
