// +build windows

package netloop

// Windows ECN readback via WSARecvMsg ancillary data is not wired up
// by this package; received packets are treated as unmarked, matching
// the simplified Windows path this engine targets (the
// overlapped-I/O/select() split spec §4.6 describes is about the wait
// primitive, not per-packet ECN decoding).
func parseECNFromOOB(oob []byte) ECN {
	return ECNUnmarked
}
