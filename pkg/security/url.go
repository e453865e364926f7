// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URL validation errors.
var (
	ErrBlockedScheme   = errors.New("scheme not allowed")
	ErrBlockedHost     = errors.New("host is blocked")
	ErrBlockedIPRange  = errors.New("address is in a blocked range")
	ErrBlockedPort     = errors.New("port is blocked")
	ErrEmbeddedCreds   = errors.New("credentials embedded in URL")
	ErrUnparseableHost = errors.New("host could not be parsed")
)

// blockedCIDRs covers loopback, RFC 1918 private space, link-local
// (including cloud metadata), and their IPv6 equivalents.
var blockedCIDRs = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

// blockedHostnames are refused regardless of what they resolve to.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"0.0.0.0":                  true,
	"metadata.google.internal": true,
	"169.254.169.254":          true,
	"metadata.azure.com":       true,
}

// blockedPorts are common admin and database ports that workflow
// nodes have no business reaching.
var blockedPorts = map[int]bool{
	22: true, 23: true, 25: true, 135: true, 137: true, 138: true,
	139: true, 445: true, 1433: true, 1521: true, 3306: true,
	3389: true, 5432: true, 5900: true, 6379: true, 27017: true,
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("bad builtin CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// ValidateOutboundURL enforces the SSRF policy for node-initiated
// HTTP requests.
//
// Description:
//
//	Only http and https are allowed. Hosts on the blocklist, literal
//	IPs inside private or link-local ranges, blocked ports, and URLs
//	with embedded credentials are all rejected before any network
//	traffic is issued. Hostname resolution is intentionally not
//	performed here; rebinding protection belongs at the dialer.
//
// Outputs:
//
//	error - Non-nil with a sentinel cause when the URL is refused
func ValidateOutboundURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseableHost, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q", ErrBlockedScheme, u.Scheme)
	}
	if u.User != nil {
		return ErrEmbeddedCreds
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnparseableHost)
	}
	if blockedHostnames[host] {
		return fmt.Errorf("%w: %q", ErrBlockedHost, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, cidr := range blockedCIDRs {
			if cidr.Contains(ip) {
				return fmt.Errorf("%w: %s in %s", ErrBlockedIPRange, ip, cidr)
			}
		}
	}

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("%w: port %q", ErrUnparseableHost, portStr)
		}
		if blockedPorts[port] {
			return fmt.Errorf("%w: %d", ErrBlockedPort, port)
		}
	}
	return nil
}
