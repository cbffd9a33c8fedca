package stream

import (
	"context"
	"fmt"

	"github.com/saveenergy/chunkbench/internal/logging"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
	"github.com/saveenergy/chunkbench/pkg/types"
)

// Sender emits a fixed number of fixed-size zero-filled chunks, once, to one
// peer. Each write completes before the next begins.
type Sender struct {
	chunkSize  int
	chunkCount int
	logger     *logging.Logger
}

func NewSender(session types.Session, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Sender{
		chunkSize:  session.ChunkSizeBytes,
		chunkCount: session.ChunkCount,
		logger:     logger,
	}
}

// Send returns the number of chunks fully written. The first failed write
// aborts the remaining chunks; nothing is retried.
func (s *Sender) Send(ctx context.Context, w ChunkWriter) (int, error) {
	chunk := make([]byte, s.chunkSize)

	for i := 1; i <= s.chunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return i - 1, cberrors.ErrTransport("send cancelled", i, err)
		}
		if err := w.WriteChunk(chunk); err != nil {
			msg := "write chunk"
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("%w (%v)", ctxErr, err)
				msg = "send cancelled"
			} else if isTimeout(err) {
				msg = "write chunk timed out"
			}
			s.logger.Error("Failed to send data chunk",
				logging.Field{Key: "chunk", Value: i},
				logging.Field{Key: "error", Value: err})
			return i - 1, cberrors.ErrTransport(msg, i, err)
		}
		s.logger.Debug("Sent chunk",
			logging.Field{Key: "chunk", Value: i},
			logging.Field{Key: "bytes", Value: s.chunkSize})
	}

	s.logger.Info("Completed chunk transfer",
		logging.Field{Key: "chunks", Value: s.chunkCount},
		logging.Field{Key: "bytes", Value: int64(s.chunkSize) * int64(s.chunkCount)})
	return s.chunkCount, nil
}
