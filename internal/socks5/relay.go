package socks5

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"
)

// Stats counts the payload bytes relayed in each direction.
type Stats struct {
	Upstream   int64 // client -> upstream
	Downstream int64 // upstream -> client
}

// Relay copies bytes between client and upstream until either direction
// ends. teardown must close both connections and be safe to call more than
// once; it runs as soon as the first copy finishes, which unblocks the other.
// A clean end, a closed connection or a cancelled ctx is not an error.
func Relay(ctx context.Context, client, upstream net.Conn, teardown func()) (Stats, error) {
	var (
		stats Stats
		g     errgroup.Group
	)

	stop := context.AfterFunc(ctx, teardown)
	defer stop()

	g.Go(func() error {
		defer teardown()
		n, err := copyWithCtx(ctx, upstream, client)
		stats.Upstream = n
		if isClosed(err) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer teardown()
		n, err := copyWithCtx(ctx, client, upstream)
		stats.Downstream = n
		if isClosed(err) {
			return nil
		}
		return err
	})

	err := g.Wait()
	return stats, err
}
