package socks5

import (
	"errors"
	"fmt"
	"net"
)

const SOCKS5VERSION uint8 = 5

const (
	MethodNoAuth uint8 = iota
	MethodGSSAPI
	MethodUserPass
	MethodNoAcceptable uint8 = 0xFF
)

const (
	RequestConnect uint8 = iota + 1
	RequestBind
	RequestUDP
)

const (
	RequestAtypIPV4       uint8 = 1
	RequestAtypDomainname uint8 = 3
	RequestAtypIPV6       uint8 = 4
)

// Reply status codes, RFC1928 section 6.
const (
	Succeeded uint8 = iota
	Failure
	Allowed
	NetUnreachable
	HostUnreachable
	ConnRefused
	TTLExpired
	CmdUnsupported
	AddrUnsupported
)

var (
	ErrVersionMismatch        = errors.New("socks5: protocol version mismatch")
	ErrUnsupportedCommand     = errors.New("socks5: unsupported command")
	ErrUnsupportedAddressType = errors.New("socks5: unsupported address type")
	ErrMalformedAddress       = errors.New("socks5: malformed address")

	// errIncomplete is returned by the parsers while the buffer does not yet
	// hold a whole message.
	errIncomplete = errors.New("socks5: incomplete message")
)

// ConnectError reports a failed upstream connection together with the reply
// status sent to the client.
type ConnectError struct {
	Status uint8
	Addr   string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, StatusText(e.Status), e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StatusText returns a description of a reply status.
func StatusText(status uint8) string {
	switch status {
	case Succeeded:
		return "succeeded"
	case Failure:
		return "general SOCKS server failure"
	case Allowed:
		return "connection not allowed by ruleset"
	case NetUnreachable:
		return "network unreachable"
	case HostUnreachable:
		return "host unreachable"
	case ConnRefused:
		return "connection refused"
	case TTLExpired:
		return "TTL expired"
	case CmdUnsupported:
		return "command not supported"
	case AddrUnsupported:
		return "address type not supported"
	default:
		return fmt.Sprintf("unassigned status %#x", status)
	}
}

// Greeting is the client's method negotiation message.
type Greeting struct {
	Version uint8
	Methods []uint8
}

// Request is a parsed CONNECT request.
type Request struct {
	Version uint8
	Command uint8
	Addr    Address
}

// Address is a decoded DST.ADDR/DST.PORT pair. Exactly one of IP and Name is
// set, according to Type.
type Address struct {
	Type uint8
	IP   net.IP
	Name string
	Port uint16
}

// Host returns the address without the port.
func (a Address) Host() string {
	if a.Type == RequestAtypDomainname {
		return a.Name
	}
	return a.IP.String()
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host(), fmt.Sprint(a.Port))
}

// Reply is the server's answer to a request. The bound address is always
// reported as 0.0.0.0:0.
type Reply struct {
	Status uint8
}
