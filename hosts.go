package mcplus

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "11211"
)

// NormalizeAddr returns addr in "host:port" form. The port defaults to 11211
// and the host to localhost, so "" and ":11212" are both valid.
func NormalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return net.JoinHostPort(DefaultHost, DefaultPort), nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port: a bare host name or IP, IPv6 possibly bracketed.
		host = addr
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
		if strings.ContainsAny(host, "[]") {
			return "", fmt.Errorf("invalid server address %q", addr)
		}
		if strings.Count(host, ":") == 1 {
			return "", fmt.Errorf("invalid server address %q: %w", addr, err)
		}
		port = DefaultPort
	}

	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid port in server address %q", addr)
	}

	return net.JoinHostPort(host, port), nil
}

// ParseHosts parses a comma or space separated list of server addresses.
// Duplicates are removed, the first occurrence keeps its position.
// An empty list yields the default local server.
func ParseHosts(s string) ([]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return normalizeHosts(fields)
}

func normalizeHosts(hosts []string) ([]string, error) {
	if len(hosts) == 0 {
		hosts = []string{""}
	}

	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		addr, err := NormalizeAddr(h)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// parseClusterConfig decodes the payload of "config get cluster". The
// payload is a config version line followed by a line of space separated
// "hostname|ip|port" entries. The host name is used when present, the IP
// otherwise.
func parseClusterConfig(data []byte) ([]string, error) {
	var nodes []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			nodes = line
		}
	}
	if nodes == nil {
		return nil, fmt.Errorf("%w: empty cluster configuration", ErrAutodiscoveryFailed)
	}

	var addrs []string
	for _, entry := range strings.Fields(string(nodes)) {
		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: invalid cluster node %q", ErrAutodiscoveryFailed, entry)
		}

		host := parts[0]
		if host == "" {
			host = parts[1]
		}
		if host == "" {
			return nil, fmt.Errorf("%w: cluster node %q has no address", ErrAutodiscoveryFailed, entry)
		}
		if _, err := strconv.ParseUint(parts[2], 10, 16); err != nil {
			return nil, fmt.Errorf("%w: invalid port in cluster node %q", ErrAutodiscoveryFailed, entry)
		}

		addrs = append(addrs, net.JoinHostPort(host, parts[2]))
	}
	return addrs, nil
}
