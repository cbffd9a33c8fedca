// Package client provides a Go SDK for running chunked throughput sessions
// programmatically. Agents and applications can import this package instead
// of shelling out to the CLI.
//
// Usage:
//
//	c := client.New("127.0.0.1:7878", session)
//	report, err := c.Measure(ctx)
//
// The sender at the address must have been started with the same chunk size
// and chunk count; nothing on the wire checks that they agree.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/metrics"
	"github.com/saveenergy/chunkbench/internal/stream"
	"github.com/saveenergy/chunkbench/pkg/diagnostic"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
	"github.com/saveenergy/chunkbench/pkg/types"
)

const SchemaVersion = "1"

// Client receives one session from a single sender per Measure call.
type Client struct {
	senderAddr  string
	session     types.Session
	dialTimeout time.Duration
	ioTimeout   time.Duration
	recvBuffer  int
	sessionID   string
	observer    func(types.ChunkRecord)
	logger      *logging.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithIOTimeout bounds every chunk read. Zero waits forever.
func WithIOTimeout(d time.Duration) Option {
	return func(c *Client) { c.ioTimeout = d }
}

func WithRecvBuffer(bytes int) Option {
	return func(c *Client) { c.recvBuffer = bytes }
}

// WithSessionID fixes the id reported for the next session instead of
// generating one.
func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// WithObserver is called with each chunk record as soon as it is timed.
func WithObserver(fn func(types.ChunkRecord)) Option {
	return func(c *Client) { c.observer = fn }
}

func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(senderAddr string, session types.Session, opts ...Option) *Client {
	c := &Client{
		senderAddr:  senderAddr,
		session:     session,
		dialTimeout: 10 * time.Second,
		logger:      logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analysis is everything derived from a set of chunk records.
type Analysis struct {
	Summary        *types.SessionSummary      `json:"summary,omitempty"`
	Series         *types.SmoothedSeries      `json:"series,omitempty"`
	Latency        types.LatencyMetrics       `json:"latency"`
	Variability    types.RateVariability      `json:"rate_variability"`
	Interpretation *diagnostic.Interpretation `json:"interpretation,omitempty"`
}

// Report is the outcome of one session. A session that aborted mid-transfer
// still carries the records collected before the failure and the figures
// derived from them.
type Report struct {
	SchemaVersion string              `json:"schema_version"`
	SessionID     string              `json:"session_id"`
	Status        types.SessionStatus `json:"status"`
	SenderAddress string              `json:"sender_address"`
	Session       types.Session       `json:"session"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       time.Time           `json:"end_time"`
	Records       []types.ChunkRecord `json:"records"`
	Analysis
	Error string `json:"error,omitempty"`
}

// Analyze derives the summary, the smoothed series and the interpretation
// from records. The series and distributions are filled in even when the
// summary cannot be computed; that error is returned alongside.
func Analyze(session types.Session, records []types.ChunkRecord) (Analysis, error) {
	series := metrics.Series(records, session.SmoothingWindow)
	a := Analysis{
		Series:      &series,
		Latency:     metrics.Latency(records),
		Variability: metrics.RateVariability(records),
	}

	summary, err := metrics.Summarize(records, session)
	if err != nil {
		return a, err
	}
	a.Summary = &summary
	a.Interpretation = diagnostic.Interpret(diagnostic.Params{
		AvgRateBps:       summary.AvgEffectiveRateBps,
		TCPThroughputBps: summary.TCPThroughputBps,
		BDPBits:          summary.BDPBits,
		TCPWindowBytes:   session.TCPWindowBytes,
		RateCoV:          a.Variability.CoefficientOfVariation,
		AvgLatencyMs:     a.Latency.AvgMs,
		P95LatencyMs:     a.Latency.P95Ms,
		ChunksReceived:   len(records),
		ChunksExpected:   session.ChunkCount,
	})
	return a, nil
}

// Measure connects to the sender, receives the whole session and analyses
// it. The report is non-nil whenever the session was attempted; err carries
// the first failure (connection, transport, then computation).
func (c *Client) Measure(ctx context.Context) (*Report, error) {
	if c.session.ChunkSizeBytes <= 0 || c.session.ChunkCount <= 0 {
		return nil, cberrors.ErrInvalidConfig(
			fmt.Sprintf("chunk size and count must be positive, got %d x %d",
				c.session.ChunkSizeBytes, c.session.ChunkCount), nil)
	}

	id := c.sessionID
	if id == "" {
		id = uuid.NewString()
	}
	report := &Report{
		SchemaVersion: SchemaVersion,
		SessionID:     id,
		Status:        types.SessionStatusCompleted,
		SenderAddress: c.senderAddr,
		Session:       c.session,
		StartTime:     time.Now(),
		Records:       []types.ChunkRecord{},
	}

	ch, err := stream.Dial(ctx, c.senderAddr, c.dialTimeout, stream.ConnOptions{
		RecvBufferBytes: c.recvBuffer,
		IOTimeout:       c.ioTimeout,
	})
	if err != nil {
		return c.fail(report, err), err
	}
	defer ch.Close()
	stop := ch.CancelOn(ctx)
	defer stop()

	c.logger.Info("Connected to sender",
		logging.Field{Key: "address", Value: c.senderAddr},
		logging.Field{Key: "chunks", Value: c.session.ChunkCount},
		logging.Field{Key: "chunk_size", Value: c.session.ChunkSizeBytes})

	receiver := stream.NewReceiver(c.session,
		stream.WithObserver(c.observer),
		stream.WithReceiverLogger(c.logger))
	records, recvErr := receiver.Receive(ctx, ch)
	if records != nil {
		report.Records = records
	}

	analysis, compErr := Analyze(c.session, records)
	report.Analysis = analysis

	if recvErr != nil {
		return c.fail(report, recvErr), recvErr
	}
	report.EndTime = time.Now()
	if compErr != nil {
		report.Error = compErr.Error()
		return report, compErr
	}
	return report, nil
}

func (c *Client) fail(report *Report, err error) *Report {
	report.Status = types.SessionStatusAborted
	report.Error = err.Error()
	report.EndTime = time.Now()
	return report
}
