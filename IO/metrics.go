package IO

import (
	"encoding/csv"
	"fmt"
	"os"
)

// MetricsSink receives per-epoch training metrics.
type MetricsSink interface {
	Log(epoch int, fields map[string]float64) error
	Close() error
}

// CSVSink appends metric rows to a CSV file, writing the header on first
// use. Column order is fixed at construction so rows stay aligned.
type CSVSink struct {
	f       *os.File
	w       *csv.Writer
	columns []string
	wrote   bool
}

func NewCSVSink(path string, columns []string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &CSVSink{f: f, w: csv.NewWriter(f), columns: columns}, nil
}

func (s *CSVSink) Log(epoch int, fields map[string]float64) error {
	if !s.wrote {
		header := append([]string{"epoch"}, s.columns...)
		if err := s.w.Write(header); err != nil {
			return err
		}
		s.wrote = true
	}
	row := make([]string, 0, len(s.columns)+1)
	row = append(row, fmt.Sprintf("%d", epoch))
	for _, c := range s.columns {
		row = append(row, fmt.Sprintf("%.6f", fields[c]))
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
