package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

/*
	Greeting
	   +-----+----------+-----------+
	   | VER | NMETHODS |  METHODS  |
	   +-----+----------+-----------+
	   |  1  |    1     |  1 to 255 |
	   +-----+----------+-----------+

	Request
	   +----+-----+-------+------+----------+----------+
	   |VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
	   +----+-----+-------+------+----------+----------+
	   | 1  |  1  | X'00' |  1   | Variable |    2     |
	   +----+-----+-------+------+----------+----------+

	Reply
	   +----+-----+-------+------+----------+----------+
	   |VER | REP |  RSV  | ATYP | BND.ADDR | BND.PORT |
	   +----+-----+-------+------+----------+----------+
	   | 1  |  1  | X'00' |  1   | Variable |    2     |
	   +----+-----+-------+------+----------+----------+
*/

const (
	ipv4Len     = 4
	portLen     = 2
	requestHead = 4
	replyLen    = 10
)

// ParseGreeting parses a greeting from the start of b and returns the number
// of bytes it occupies. errIncomplete means b must grow before retrying.
func ParseGreeting(b []byte) (*Greeting, int, error) {
	if len(b) < 1 {
		return nil, 0, errIncomplete
	}
	if b[0] != SOCKS5VERSION {
		return nil, 0, fmt.Errorf("greeting version %d: %w", b[0], ErrVersionMismatch)
	}
	if len(b) < 2 {
		return nil, 0, errIncomplete
	}
	n := 2 + int(b[1])
	if len(b) < n {
		return nil, 0, errIncomplete
	}
	methods := make([]uint8, n-2)
	copy(methods, b[2:n])
	return &Greeting{Version: b[0], Methods: methods}, n, nil
}

// ParseRequest parses a request from the start of b and returns the number of
// bytes it occupies. errIncomplete means b must grow before retrying.
func ParseRequest(b []byte) (*Request, int, error) {
	if len(b) < 1 {
		return nil, 0, errIncomplete
	}
	if b[0] != SOCKS5VERSION {
		return nil, 0, fmt.Errorf("request version %d: %w", b[0], ErrVersionMismatch)
	}
	if len(b) < requestHead {
		return nil, 0, errIncomplete
	}
	if b[1] != RequestConnect {
		return nil, 0, fmt.Errorf("command %d: %w", b[1], ErrUnsupportedCommand)
	}
	addr, n, err := DecodeAddress(b[3], b[requestHead:])
	if err != nil {
		return nil, 0, err
	}
	return &Request{Version: b[0], Command: b[1], Addr: addr}, requestHead + n, nil
}

// DecodeAddress decodes DST.ADDR and DST.PORT from b, which starts at the
// byte after ATYP. It returns the number of bytes consumed.
func DecodeAddress(atyp uint8, b []byte) (Address, int, error) {
	switch atyp {
	case RequestAtypIPV4:
		n := ipv4Len + portLen
		if len(b) < n {
			return Address{}, 0, errIncomplete
		}
		ip := make(net.IP, ipv4Len)
		copy(ip, b[:ipv4Len])
		return Address{
			Type: atyp,
			IP:   ip,
			Port: binary.BigEndian.Uint16(b[ipv4Len:n]),
		}, n, nil
	case RequestAtypDomainname:
		if len(b) < 1 {
			return Address{}, 0, errIncomplete
		}
		l := int(b[0])
		if l == 0 {
			return Address{}, 0, fmt.Errorf("empty domain name: %w", ErrMalformedAddress)
		}
		n := 1 + l + portLen
		if len(b) < n {
			return Address{}, 0, errIncomplete
		}
		return Address{
			Type: atyp,
			Name: string(b[1 : 1+l]),
			Port: binary.BigEndian.Uint16(b[1+l : n]),
		}, n, nil
	default:
		return Address{}, 0, fmt.Errorf("atyp %d: %w", atyp, ErrUnsupportedAddressType)
	}
}

// MarshalBinary encodes ATYP, DST.ADDR and DST.PORT.
func (a Address) MarshalBinary() ([]byte, error) {
	var b []byte
	switch a.Type {
	case RequestAtypIPV4:
		ip := a.IP.To4()
		if ip == nil {
			return nil, fmt.Errorf("%v is not an IPv4 address: %w", a.IP, ErrMalformedAddress)
		}
		b = make([]byte, 0, 1+ipv4Len+portLen)
		b = append(b, a.Type)
		b = append(b, ip...)
	case RequestAtypDomainname:
		if len(a.Name) == 0 || len(a.Name) > 255 {
			return nil, fmt.Errorf("domain length %d: %w", len(a.Name), ErrMalformedAddress)
		}
		b = make([]byte, 0, 2+len(a.Name)+portLen)
		b = append(b, a.Type, uint8(len(a.Name)))
		b = append(b, a.Name...)
	default:
		return nil, fmt.Errorf("atyp %d: %w", a.Type, ErrUnsupportedAddressType)
	}
	return binary.BigEndian.AppendUint16(b, a.Port), nil
}

// MarshalBinary encodes the reply with ATYP IPv4 and a zeroed bound address.
func (r Reply) MarshalBinary() ([]byte, error) {
	b := make([]byte, replyLen)
	b[0] = SOCKS5VERSION
	b[1] = r.Status
	b[3] = RequestAtypIPV4
	return b, nil
}

// replyStatus maps a handshake error to the reply status written before the
// connection is closed. ok is false when no reply is owed.
func replyStatus(err error) (status uint8, ok bool) {
	var ce *ConnectError
	switch {
	case errors.As(err, &ce):
		return ce.Status, true
	case errors.Is(err, ErrUnsupportedCommand):
		return CmdUnsupported, true
	case errors.Is(err, ErrUnsupportedAddressType):
		return AddrUnsupported, true
	default:
		return 0, false
	}
}
