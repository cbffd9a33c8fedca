package client

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/saveenergy/chunkbench/internal/logging"
	"github.com/saveenergy/chunkbench/internal/stream"
	cberrors "github.com/saveenergy/chunkbench/pkg/errors"
	"github.com/saveenergy/chunkbench/pkg/types"
)

func quietLogger() *logging.Logger {
	return logging.New(io.Discard, "test", logging.LevelError)
}

func testSession(count int) types.Session {
	return types.Session{
		ChunkSizeBytes:  32 * 1024,
		ChunkCount:      count,
		RTTSeconds:      0.2,
		TCPWindowBytes:  64_000,
		SmoothingWindow: 5,
	}
}

// startSender serves one session of sendCount chunks on a loopback port.
func startSender(t *testing.T, session types.Session, sendCount int) string {
	t.Helper()
	l, err := stream.Listen("127.0.0.1:0", stream.ConnOptions{SendBufferBytes: session.ChunkSizeBytes})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	sendSession := session
	sendSession.ChunkCount = sendCount
	go func() {
		ch, err := l.Accept(context.Background())
		if err != nil {
			return
		}
		defer ch.Close()
		stream.NewSender(sendSession, quietLogger()).Send(context.Background(), ch)
	}()
	return l.Addr().String()
}

func TestNewClientDefaults(t *testing.T) {
	c := New("127.0.0.1:7878", testSession(1))
	if c.dialTimeout != 10*time.Second {
		t.Fatalf("dial timeout = %v", c.dialTimeout)
	}
	if c.ioTimeout != 0 {
		t.Fatalf("io timeout = %v, want 0 (context-driven)", c.ioTimeout)
	}
}

func TestMeasureCompleteSession(t *testing.T) {
	session := testSession(12)
	addr := startSender(t, session, session.ChunkCount)

	var seen []int
	c := New(addr, session,
		WithLogger(quietLogger()),
		WithSessionID("fixed-id"),
		WithObserver(func(r types.ChunkRecord) { seen = append(seen, r.Index) }))

	report, err := c.Measure(context.Background())
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if report.Status != types.SessionStatusCompleted || report.SessionID != "fixed-id" {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Records) != 12 || len(seen) != 12 {
		t.Fatalf("records = %d, observed = %d", len(report.Records), len(seen))
	}
	if report.Summary == nil || report.Summary.TotalBytes != session.TotalBytes() {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if report.Series == nil || report.Series.Len() != 8 {
		t.Fatalf("series = %+v, want 8 smoothed points", report.Series)
	}
	if report.Interpretation == nil {
		t.Fatal("interpretation missing")
	}
	if report.EndTime.Before(report.StartTime) {
		t.Fatal("end time before start time")
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"schema_version", "summary", "series", "records", "interpretation"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("report JSON missing %q", key)
		}
	}
}

func TestMeasureAbortedSessionKeepsPartialReport(t *testing.T) {
	session := testSession(10)
	addr := startSender(t, session, 4)

	report, err := New(addr, session, WithLogger(quietLogger())).Measure(context.Background())
	if !cberrors.IsTransportError(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if report == nil || report.Status != types.SessionStatusAborted {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(report.Records))
	}
	if report.Summary == nil || report.Summary.Records != 4 {
		t.Fatalf("partial summary = %+v", report.Summary)
	}
	if report.Error == "" {
		t.Fatal("error text missing from report")
	}
}

func TestMeasureConnectionRefused(t *testing.T) {
	l, err := stream.Listen("127.0.0.1:0", stream.ConnOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	report, err := New(addr, testSession(3), WithLogger(quietLogger()), WithDialTimeout(time.Second)).
		Measure(context.Background())
	if !cberrors.IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error", err)
	}
	if report.Status != types.SessionStatusAborted || len(report.Records) != 0 || report.Summary != nil {
		t.Fatalf("report = %+v", report)
	}
}

func TestMeasureRejectsEmptySession(t *testing.T) {
	_, err := New("127.0.0.1:1", types.Session{}).Measure(context.Background())
	if !cberrors.IsConfigError(err) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestAnalyzeShortSession(t *testing.T) {
	session := testSession(3)
	records := []types.ChunkRecord{
		types.NewChunkRecord(1, session.ChunkSizeBytes, 10*time.Millisecond),
		types.NewChunkRecord(2, session.ChunkSizeBytes, 20*time.Millisecond),
		types.NewChunkRecord(3, session.ChunkSizeBytes, 30*time.Millisecond),
	}
	a, err := Analyze(session, records)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.Series.Len() != 0 {
		t.Fatalf("series len = %d, want 0 for 3 chunks with window 5", a.Series.Len())
	}
	if a.Summary == nil || a.Summary.Records != 3 {
		t.Fatalf("summary = %+v", a.Summary)
	}
}

func TestAnalyzeNoRecords(t *testing.T) {
	a, err := Analyze(testSession(3), nil)
	if !cberrors.IsComputationError(err) {
		t.Fatalf("err = %v, want computation error", err)
	}
	if a.Summary != nil || a.Interpretation != nil {
		t.Fatalf("analysis = %+v", a)
	}
}
