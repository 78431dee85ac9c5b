//go:build unix

package socks5

import (
	"errors"

	"golang.org/x/sys/unix"
)

func errnoStatus(err error) uint8 {
	switch {
	case errors.Is(err, unix.ECONNREFUSED):
		return ConnRefused
	case errors.Is(err, unix.ENETUNREACH), errors.Is(err, unix.ENETDOWN):
		return NetUnreachable
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.EHOSTDOWN):
		return HostUnreachable
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return Allowed
	case errors.Is(err, unix.ETIMEDOUT):
		return TTLExpired
	}
	return Failure
}
