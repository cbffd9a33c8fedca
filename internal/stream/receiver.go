package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/saveenergy/chunkbench/internal/logging"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
	"github.com/saveenergy/chunkbench/pkg/types"
)

// Receiver reads the agreed number of chunks and times each one.
type Receiver struct {
	chunkSize  int
	chunkCount int
	now        func() time.Time
	observer   func(types.ChunkRecord)
	logger     *logging.Logger
}

type ReceiverOption func(*Receiver)

// WithClock replaces time.Now for the per-chunk timing.
func WithClock(now func() time.Time) ReceiverOption {
	return func(r *Receiver) { r.now = now }
}

// WithObserver is called with every record, in index order, before the
// next chunk is read.
func WithObserver(fn func(types.ChunkRecord)) ReceiverOption {
	return func(r *Receiver) { r.observer = fn }
}

func WithReceiverLogger(logger *logging.Logger) ReceiverOption {
	return func(r *Receiver) { r.logger = logger }
}

func NewReceiver(session types.Session, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		chunkSize:  session.ChunkSizeBytes,
		chunkCount: session.ChunkCount,
		now:        time.Now,
		logger:     logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive returns the records of every chunk that arrived in full. On a
// transport failure it returns those records together with the error; the
// failing chunk produces no record.
func (r *Receiver) Receive(ctx context.Context, src ChunkReader) ([]types.ChunkRecord, error) {
	buf := make([]byte, r.chunkSize)
	records := make([]types.ChunkRecord, 0, r.chunkCount)

	for i := 1; i <= r.chunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return records, cberrors.ErrTransport("receive cancelled", i, err)
		}

		start := r.now()
		if err := src.ReadChunk(buf); err != nil {
			return records, r.readFailure(ctx, i, err)
		}
		record := types.NewChunkRecord(i, r.chunkSize, r.now().Sub(start))
		records = append(records, record)

		r.logger.Debug(fmt.Sprintf("Chunk %d: Download Time: %.2fs, Effective Data Rate: %.2f bps",
			record.Index, record.DurationSeconds, record.EffectiveRateBps))
		if r.observer != nil {
			r.observer(record)
		}
	}
	return records, nil
}

func (r *Receiver) readFailure(ctx context.Context, index int, err error) error {
	msg := "read chunk"
	switch {
	case ctx.Err() != nil:
		err = fmt.Errorf("%w (%v)", ctx.Err(), err)
		msg = "receive cancelled"
	case isTimeout(err):
		msg = "read chunk timed out"
	}
	r.logger.Warn("Receive aborted",
		logging.Field{Key: "chunk", Value: index},
		logging.Field{Key: "completed", Value: index - 1},
		logging.Field{Key: "error", Value: err})
	return cberrors.ErrTransport(msg, index, err)
}
