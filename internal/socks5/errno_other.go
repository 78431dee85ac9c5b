//go:build !unix

package socks5

import (
	"errors"
	"syscall"
)

func errnoStatus(err error) uint8 {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ConnRefused
	}
	return Failure
}
