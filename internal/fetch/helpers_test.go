package fetch

import "net"

var netDNSError = net.DNSError{Err: "server misbehaving", Name: "api.ercot.com"}
