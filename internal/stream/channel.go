package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
)

// ChunkWriter accepts one whole chunk per call.
type ChunkWriter interface {
	WriteChunk(p []byte) error
}

// ChunkReader fills p completely or fails.
type ChunkReader interface {
	ReadChunk(p []byte) error
}

// ConnOptions tunes the TCP socket under a Channel. Zero buffer sizes keep
// the kernel defaults; a zero IOTimeout waits forever.
type ConnOptions struct {
	SendBufferBytes int
	RecvBufferBytes int
	NoDelay         bool
	IOTimeout       time.Duration
}

// Channel is the ordered byte stream of one connected session. It carries no
// framing: chunks are a flat concatenation of bytes.
type Channel struct {
	conn      net.Conn
	ioTimeout time.Duration
	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

func NewChannel(conn net.Conn, opts ConnOptions) *Channel {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(opts.NoDelay)
		if opts.SendBufferBytes > 0 {
			tcpConn.SetWriteBuffer(opts.SendBufferBytes)
		}
		if opts.RecvBufferBytes > 0 {
			tcpConn.SetReadBuffer(opts.RecvBufferBytes)
		}
	}
	return &Channel{conn: conn, ioTimeout: opts.IOTimeout}
}

func (c *Channel) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteChunk blocks until every byte of p has been accepted by the transport.
func (c *Channel) WriteChunk(p []byte) error {
	for written := 0; written < len(p); {
		if c.ioTimeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout))
		}
		n, err := c.conn.Write(p[written:])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadChunk absorbs short reads until len(p) bytes have arrived. A stream
// that ends early yields io.ErrUnexpectedEOF (or io.EOF if nothing arrived).
func (c *Channel) ReadChunk(p []byte) error {
	if c.ioTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.ioTimeout))
	}
	_, err := io.ReadFull(c.conn, p)
	return err
}

// CancelOn unblocks any pending read or write once ctx is done by moving the
// connection deadline to now. The returned func detaches the watcher.
func (c *Channel) CancelOn(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
}

// Close releases the connection exactly once; later calls return the first
// result.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return c.closeErr
}

// Dial connects the receiving side to a listening sender.
func Dial(ctx context.Context, address string, dialTimeout time.Duration, opts ConnOptions) (*Channel, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, cberrors.ErrConnectionFailed(fmt.Sprintf("connect to %s", address), err)
	}
	return NewChannel(conn, opts), nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
