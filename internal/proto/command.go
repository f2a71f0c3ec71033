// Package proto tokenizes the FTP control-connection command language
// (RFC 959 subset): one CRLF-terminated line becomes a verb and its
// verb-specific argument.
package proto

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Command is one parsed control-connection line: an upper-cased verb and
// its raw argument string, left for the per-verb handler to interpret.
type Command struct {
	Verb string
	Arg  string
}

// ParseLine tokenizes a single line with its trailing CRLF already
// stripped (or not — ParseLine strips it defensively). A blank line
// parses to ok=false and should be ignored by the caller, matching the
// common FTP client behavior of sending stray keep-alive newlines.
func ParseLine(line string) (cmd Command, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{}, false
	}
	parts := strings.SplitN(line, " ", 2)
	cmd.Verb = strings.ToUpper(parts[0])
	if len(parts) > 1 {
		cmd.Arg = strings.TrimSpace(parts[1])
	}
	return cmd, true
}

// ParsePORT decodes a PORT argument of the form "h1,h2,h3,h4,p1,p2" into
// an IPv4 address and port, per spec.md §4.B.
func ParsePORT(arg string) (host string, port int, err error) {
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", 0, fmt.Errorf("proto: PORT: expected 6 comma-separated fields, got %d", len(parts))
	}

	octets := make([]string, 4)
	for i := 0; i < 4; i++ {
		n, convErr := strconv.Atoi(parts[i])
		if convErr != nil || n < 0 || n > 255 {
			return "", 0, fmt.Errorf("proto: PORT: invalid address octet %q", parts[i])
		}
		octets[i] = parts[i]
	}
	ip := net.ParseIP(strings.Join(octets, "."))
	if ip == nil {
		return "", 0, fmt.Errorf("proto: PORT: invalid IPv4 address")
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", 0, fmt.Errorf("proto: PORT: invalid port fields")
	}

	return ip.String(), p1*256 + p2, nil
}

// FormatPASV renders the "(a1,a2,a3,a4,p1,p2)" tuple embedded in a PASV
// reply, per spec.md §4.B/§6.
func FormatPASV(ip net.IP, port int) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("proto: FormatPASV: %s is not an IPv4 address", ip)
	}
	p1, p2 := port/256, port%256
	return fmt.Sprintf("(%d,%d,%d,%d,%d,%d)", v4[0], v4[1], v4[2], v4[3], p1, p2), nil
}
