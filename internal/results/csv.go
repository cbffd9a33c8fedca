// Package results holds the sinks a finished session is written to: the
// per-chunk CSV table, the PNG chart and the SQLite session history.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/saveenergy/chunkbench/pkg/types"
)

var csvHeader = []string{"chunk_index", "download_time_seconds", "effective_data_rate_bps"}

// WriteCSV writes one row per record after the header row. Floats use the
// shortest representation that parses back to the same value.
func WriteCSV(w io.Writer, records []types.ChunkRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(csvHeader))
	for _, r := range records {
		row[0] = strconv.Itoa(r.Index)
		row[1] = strconv.FormatFloat(r.DurationSeconds, 'f', -1, 64)
		row[2] = strconv.FormatFloat(r.EffectiveRateBps, 'f', -1, 64)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", r.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func SaveCSV(path string, records []types.ChunkRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close csv: %w", cerr)
		}
	}()
	return WriteCSV(f, records)
}

// ReadCSV parses a table produced by WriteCSV.
func ReadCSV(r io.Reader) ([]types.ChunkRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected csv column %d: %q, want %q", i+1, header[i], name)
		}
	}

	var records []types.ChunkRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func LoadCSV(path string) ([]types.ChunkRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

func parseRow(row []string) (types.ChunkRecord, error) {
	index, err := strconv.Atoi(row[0])
	if err != nil {
		return types.ChunkRecord{}, fmt.Errorf("chunk_index: %w", err)
	}
	duration, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return types.ChunkRecord{}, fmt.Errorf("download_time_seconds: %w", err)
	}
	rate, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return types.ChunkRecord{}, fmt.Errorf("effective_data_rate_bps: %w", err)
	}
	return types.ChunkRecord{Index: index, DurationSeconds: duration, EffectiveRateBps: rate}, nil
}
