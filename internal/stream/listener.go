package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/saveenergy/chunkbench/internal/logging"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
)

// State is the lifecycle of a one-shot listener.
type State int32

const (
	StateListening State = iota
	StateSessionActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateSessionActive:
		return "session_active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrSessionConsumed is returned by Accept once the single session has been
// handed out.
var ErrSessionConsumed = errors.New("listener already accepted its session")

// Listener accepts exactly one connection for its whole lifetime. After the
// accept the listening socket is closed, so a second client is refused by
// the kernel rather than queued.
type Listener struct {
	ln        *net.TCPListener
	opts      ConnOptions
	state     atomic.Int32
	closeOnce sync.Once
}

func Listen(address string, opts ConnOptions) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, cberrors.ErrConnectionFailed("resolve listen address", err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, cberrors.ErrConnectionFailed(fmt.Sprintf("listen on %s", address), err)
	}
	l := &Listener{ln: ln, opts: opts}
	l.state.Store(int32(StateListening))
	return l, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) State() State { return State(l.state.Load()) }

// Accept blocks until the one peer connects or ctx is cancelled.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	if !l.state.CompareAndSwap(int32(StateListening), int32(StateSessionActive)) {
		return nil, ErrSessionConsumed
	}

	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	conn, err := l.ln.AcceptTCP()
	stop()
	l.closeListener()

	if err != nil {
		l.state.Store(int32(StateClosed))
		if ctx.Err() != nil {
			return nil, cberrors.ErrConnectionFailed("accept cancelled", ctx.Err())
		}
		return nil, cberrors.ErrConnectionFailed("accept", err)
	}

	logging.Info("Session accepted",
		logging.Field{Key: "peer", Value: conn.RemoteAddr().String()})

	ch := NewChannel(conn, l.opts)
	ch.onClose = func() { l.state.Store(int32(StateClosed)) }
	return ch, nil
}

// Close stops listening. A session already handed out stays open until its
// Channel is closed.
func (l *Listener) Close() error {
	l.state.CompareAndSwap(int32(StateListening), int32(StateClosed))
	l.closeListener()
	return nil
}

func (l *Listener) closeListener() {
	l.closeOnce.Do(func() {
		l.ln.Close()
	})
}
