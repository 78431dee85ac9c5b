package socks5

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

var bufPool512 = sync.Pool{
	New: func() interface{} {
		return make([]byte, 512)
	},
}

var bufPool32k = sync.Pool{
	New: func() interface{} {
		return make([]byte, 32*1024)
	},
}

// from https://ixday.github.io/post/golang-cancel-copy/

type readerFunc func(p []byte) (n int, err error)

func (rf readerFunc) Read(p []byte) (n int, err error) { return rf(p) }

// writerOnly hides io.ReaderFrom so io.CopyBuffer uses the pooled buffer.
type writerOnly struct {
	io.Writer
}

func copyWithCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := bufPool32k.Get().([]byte)
	defer bufPool32k.Put(buf)

	// The cancel check sits before each read, the earliest point in a chunk.
	return io.CopyBuffer(writerOnly{dst}, readerFunc(func(p []byte) (n int, err error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			return src.Read(p)
		}
	}), buf)
}

// readMessage parses the front of *buf, reading more from r while parse
// reports errIncomplete. The parsed bytes are dropped from *buf; anything
// received past the message stays buffered for the next stage.
func readMessage[T any](r io.Reader, buf *[]byte, parse func([]byte) (T, int, error)) (T, error) {
	scratch := bufPool512.Get().([]byte)
	defer bufPool512.Put(scratch)

	var readErr error
	for {
		msg, n, err := parse(*buf)
		switch {
		case err == nil:
			*buf = (*buf)[n:]
			return msg, nil
		case !errors.Is(err, errIncomplete):
			return msg, err
		case readErr != nil:
			if errors.Is(readErr, io.EOF) && len(*buf) > 0 {
				readErr = io.ErrUnexpectedEOF
			}
			return msg, readErr
		}

		var rn int
		rn, readErr = r.Read(scratch)
		*buf = append(*buf, scratch[:rn]...)
	}
}

// isClosed reports errors that only mean the session is already over.
func isClosed(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled)
}
