// +build !windows

package netloop

import "golang.org/x/sys/unix"

// parseECNFromOOB scans a received packet's ancillary data for the
// IP_TOS (IPv4) or IPV6_TCLASS (IPv6) control message and extracts its
// low two bits, the ECN codepoint (spec §4.6: "ECN marking").
func parseECNFromOOB(oob []byte) ECN {
	if len(oob) == 0 {
		return ECNUnmarked
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return ECNUnmarked
	}
	for _, c := range cmsgs {
		if len(c.Data) == 0 {
			continue
		}
		switch {
		case c.Header.Level == unix.IPPROTO_IP && c.Header.Type == unix.IP_TOS:
			return ECN(c.Data[0] & 0x3)
		case c.Header.Level == unix.IPPROTO_IPV6 && c.Header.Type == unix.IPV6_TCLASS:
			return ECN(c.Data[0] & 0x3)
		}
	}
	return ECNUnmarked
}
