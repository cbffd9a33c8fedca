package stream

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/metrics"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
	"github.com/saveenergy/chunkbench/pkg/types"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) Now() time.Time { return c.t }

// timedReader advances the clock by step on every chunk and fails once
// failAfter chunks have been delivered (0 never fails).
type timedReader struct {
	clock     *stepClock
	step      time.Duration
	failAfter int
	reads     int
}

func (r *timedReader) ReadChunk(p []byte) error {
	if r.failAfter > 0 && r.reads >= r.failAfter {
		return io.ErrUnexpectedEOF
	}
	r.reads++
	r.clock.t = r.clock.t.Add(r.step)
	return nil
}

type failingWriter struct {
	failAt int
	writes int
}

func (w *failingWriter) WriteChunk(p []byte) error {
	w.writes++
	if w.writes == w.failAt {
		return io.ErrClosedPipe
	}
	return nil
}

func quietLogger() *logging.Logger {
	return logging.New(io.Discard, "test", logging.LevelError)
}

func TestReceiverTimesEachChunk(t *testing.T) {
	session := types.Session{ChunkSizeBytes: 1_000_000, ChunkCount: 100}
	clock := &stepClock{t: time.Unix(0, 0)}
	src := &timedReader{clock: clock, step: 100 * time.Millisecond}

	var observed []int
	r := NewReceiver(session,
		WithClock(clock.Now),
		WithObserver(func(rec types.ChunkRecord) { observed = append(observed, rec.Index) }),
		WithReceiverLogger(quietLogger()))

	records, err := r.Receive(context.Background(), src)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(records) != 100 {
		t.Fatalf("records = %d, want 100", len(records))
	}
	for i, rec := range records {
		if rec.Index != i+1 {
			t.Fatalf("record %d has index %d", i, rec.Index)
		}
		if rec.DurationSeconds != 0.1 {
			t.Fatalf("record %d duration = %v, want 0.1", rec.Index, rec.DurationSeconds)
		}
		if math.Abs(rec.EffectiveRateBps-80_000_000) > 1e-6 {
			t.Fatalf("record %d rate = %v, want 8e7", rec.Index, rec.EffectiveRateBps)
		}
	}
	if len(observed) != 100 || observed[0] != 1 || observed[99] != 100 {
		t.Fatalf("observer saw %d records", len(observed))
	}
}

func TestReceiverAbortKeepsCompletedRecords(t *testing.T) {
	session := types.Session{ChunkSizeBytes: 1024, ChunkCount: 100}
	clock := &stepClock{t: time.Unix(0, 0)}
	src := &timedReader{clock: clock, step: time.Millisecond, failAfter: 37}

	r := NewReceiver(session, WithClock(clock.Now), WithReceiverLogger(quietLogger()))
	records, err := r.Receive(context.Background(), src)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !cberrors.IsTransportError(err) {
		t.Fatalf("error %v is not a transport error", err)
	}
	var se *cberrors.SessionError
	if !errors.As(err, &se) || se.ChunkIndex != 38 {
		t.Fatalf("failing chunk = %+v, want 38", se)
	}
	if len(records) != 37 {
		t.Fatalf("records = %d, want 37", len(records))
	}
	if records[len(records)-1].Index != 37 {
		t.Fatalf("last index = %d, want 37", records[len(records)-1].Index)
	}
}

func TestReceiverZeroDurationFailsSummary(t *testing.T) {
	frozen := time.Unix(0, 0)
	session := types.Session{ChunkSizeBytes: 10, ChunkCount: 3, RTTSeconds: 0.2, TCPWindowBytes: 64000}
	r := NewReceiver(session,
		WithClock(func() time.Time { return frozen }),
		WithReceiverLogger(quietLogger()))
	records, err := r.Receive(context.Background(), &timedReader{clock: &stepClock{}})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for _, rec := range records {
		if rec.DurationSeconds != 0 {
			t.Fatalf("chunk %d duration = %v, want the measured 0", rec.Index, rec.DurationSeconds)
		}
		if rec.EffectiveRateBps != 0 || math.IsInf(rec.EffectiveRateBps, 0) {
			t.Fatalf("chunk %d rate = %v, want 0", rec.Index, rec.EffectiveRateBps)
		}
	}

	_, err = metrics.Summarize(records, session)
	if !cberrors.IsComputationError(err) {
		t.Fatalf("Summarize err = %v, want computation error", err)
	}
}

func TestReceiverStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReceiver(types.Session{ChunkSizeBytes: 8, ChunkCount: 3}, WithReceiverLogger(quietLogger()))
	records, err := r.Receive(ctx, &timedReader{clock: &stepClock{}})
	if len(records) != 0 {
		t.Fatalf("records = %d, want 0", len(records))
	}
	if !cberrors.IsContextError(err) {
		t.Fatalf("error %v should wrap context.Canceled", err)
	}
}

func TestSenderAbortsOnWriteFailure(t *testing.T) {
	s := NewSender(types.Session{ChunkSizeBytes: 16, ChunkCount: 10}, quietLogger())
	w := &failingWriter{failAt: 5}

	sent, err := s.Send(context.Background(), w)
	if sent != 4 {
		t.Fatalf("sent = %d, want 4", sent)
	}
	if !cberrors.IsTransportError(err) {
		t.Fatalf("error %v is not a transport error", err)
	}
	if w.writes != 5 {
		t.Fatalf("writes attempted = %d, want 5 (no retry, no further chunks)", w.writes)
	}
}

func TestChannelReadChunkAbsorbsShortReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		payload := make([]byte, 10)
		for i := range payload {
			payload[i] = byte(i)
		}
		for _, piece := range [][]byte{payload[:3], payload[3:4], payload[4:]} {
			if _, err := server.Write(piece); err != nil {
				return
			}
		}
	}()

	ch := NewChannel(client, ConnOptions{})
	buf := make([]byte, 10)
	if err := ch.ReadChunk(buf); err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	for i, b := range buf {
		if b != byte(i) {
			t.Fatalf("buf[%d] = %d, want %d", i, b, i)
		}
	}
}

func TestChannelReadChunkShortStreamFails(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		server.Write([]byte{1, 2, 3})
		server.Close()
	}()

	ch := NewChannel(client, ConnOptions{})
	defer ch.Close()
	err := ch.ReadChunk(make([]byte, 8))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestChannelCancelOnUnblocksRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ch := NewChannel(client, ConnOptions{})
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stop := ch.CancelOn(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- ch.ReadChunk(make([]byte, 4)) }()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected read to fail after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read not unblocked by cancellation")
	}
}

func TestChannelCloseIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	calls := 0
	ch := NewChannel(client, ConnOptions{})
	ch.onClose = func() { calls++ }

	first := ch.Close()
	second := ch.Close()
	if first != second {
		t.Fatalf("close results differ: %v vs %v", first, second)
	}
	if calls != 1 {
		t.Fatalf("onClose called %d times, want 1", calls)
	}
}

func TestListenerOneShotLifecycle(t *testing.T) {
	l, err := Listen("127.0.0.1:0", ConnOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	if l.State() != StateListening {
		t.Fatalf("state = %s, want listening", l.State())
	}

	addr := l.Addr().String()
	dialed := make(chan net.Conn, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			dialed <- conn
		}
		close(dialed)
	}()

	ch, err := l.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if peer := <-dialed; peer != nil {
		defer peer.Close()
	}
	if l.State() != StateSessionActive {
		t.Fatalf("state = %s, want session_active", l.State())
	}

	if _, err := l.Accept(context.Background()); !errors.Is(err, ErrSessionConsumed) {
		t.Fatalf("second accept err = %v, want ErrSessionConsumed", err)
	}
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Fatal("second client should be refused once the session is active")
	}

	ch.Close()
	if l.State() != StateClosed {
		t.Fatalf("state = %s, want closed", l.State())
	}
}

func TestListenerAcceptCancelled(t *testing.T) {
	l, err := Listen("127.0.0.1:0", ConnOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = l.Accept(ctx)
	if !cberrors.IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error", err)
	}
	if l.State() != StateClosed {
		t.Fatalf("state = %s, want closed", l.State())
	}
}

func TestListenBindFailureIsConnectionError(t *testing.T) {
	l, err := Listen("127.0.0.1:0", ConnOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	if _, err := Listen(l.Addr().String(), ConnOptions{}); !cberrors.IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error for address in use", err)
	}
}

func TestDialFailureIsConnectionError(t *testing.T) {
	l, err := Listen("127.0.0.1:0", ConnOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	if _, err := Dial(context.Background(), addr, time.Second, ConnOptions{}); !cberrors.IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error", err)
	}
}

func runLoopbackSession(t *testing.T, sendSession, recvSession types.Session) ([]types.ChunkRecord, error, int) {
	t.Helper()
	l, err := Listen("127.0.0.1:0", ConnOptions{SendBufferBytes: sendSession.ChunkSizeBytes, NoDelay: true})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	sentCh := make(chan int, 1)
	go func() {
		ch, err := l.Accept(context.Background())
		if err != nil {
			sentCh <- -1
			return
		}
		defer ch.Close()
		sent, _ := NewSender(sendSession, quietLogger()).Send(context.Background(), ch)
		sentCh <- sent
	}()

	ch, err := Dial(context.Background(), l.Addr().String(), time.Second, ConnOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	records, recvErr := NewReceiver(recvSession, WithReceiverLogger(quietLogger())).Receive(context.Background(), ch)
	return records, recvErr, <-sentCh
}

func TestLoopbackSessionCompletes(t *testing.T) {
	session := types.Session{ChunkSizeBytes: 64 * 1024, ChunkCount: 16}
	records, err, sent := runLoopbackSession(t, session, session)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if sent != 16 {
		t.Fatalf("sent = %d, want 16", sent)
	}
	if len(records) != 16 {
		t.Fatalf("records = %d, want 16", len(records))
	}
	for i, rec := range records {
		if rec.Index != i+1 {
			t.Fatalf("index sequence broken at %d: %d", i, rec.Index)
		}
		if rec.DurationSeconds <= 0 || rec.EffectiveRateBps <= 0 {
			t.Fatalf("record %d has non-positive timing: %+v", rec.Index, rec)
		}
	}
}

func TestLoopbackSenderClosesEarly(t *testing.T) {
	sendSession := types.Session{ChunkSizeBytes: 4096, ChunkCount: 5}
	recvSession := types.Session{ChunkSizeBytes: 4096, ChunkCount: 8}

	records, err, sent := runLoopbackSession(t, sendSession, recvSession)
	if sent != 5 {
		t.Fatalf("sent = %d, want 5", sent)
	}
	if len(records) != 5 {
		t.Fatalf("records = %d, want 5", len(records))
	}
	var se *cberrors.SessionError
	if !errors.As(err, &se) || se.Code != cberrors.ErrCodeTransportFailed || se.ChunkIndex != 6 {
		t.Fatalf("err = %v, want transport failure at chunk 6", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF cause", err)
	}
}
