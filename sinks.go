package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/segmentio/encoding/json"
	"github.com/segmentio/parquet-go"

	"github.com/mbfilter/pkg/filter"
	"github.com/mbfilter/pkg/hw"
)

// SinkOptions selects where captured bytes go.
type SinkOptions struct {
	Output   string // file path, "-" for stdout
	Format   string // "raw" or "parquet"
	Compress string // "none", "zstd", "lz4" or "brotli"
	Shm      string // shared-memory ring name, overrides Output
	ShmSize  int
	Config   *filter.Config
}

// stackedSink writes through the outermost writer and closes every layer
// from the outside in.
type stackedSink struct {
	io.Writer
	closers []io.Closer
}

func (s *stackedSink) push(w io.Writer, c io.Closer) {
	s.Writer = w
	if c != nil {
		s.closers = append([]io.Closer{c}, s.closers...)
	}
}

func (s *stackedSink) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type flushCloser struct{ w *bufio.Writer }

func (f flushCloser) Close() error { return f.w.Flush() }

// openSink creates the destination before any capture starts.
func openSink(o SinkOptions) (io.WriteCloser, error) {
	if o.Shm != "" {
		return openShmSink(o.Shm, o.ShmSize)
	}

	s := &stackedSink{}
	switch o.Output {
	case "":
		return nil, errors.New("no output file")
	case "-":
		s.push(os.Stdout, nil)
	default:
		f, err := os.Create(o.Output)
		if err != nil {
			return nil, err
		}
		s.push(f, f)
	}

	buffered := bufio.NewWriterSize(s.Writer, 1024*1024)
	s.push(buffered, flushCloser{buffered})

	if err := s.compress(o.Compress); err != nil {
		s.Close()
		return nil, err
	}

	switch o.Format {
	case "", "raw":
	case "parquet":
		a := NewParquetWriteAdapter(s.Writer, o.Config)
		s.push(a, a)
	default:
		s.Close()
		return nil, fmt.Errorf("unknown format %q", o.Format)
	}
	return s, nil
}

func (s *stackedSink) compress(codec string) error {
	switch codec {
	case "", "none":
	case "zstd":
		enc, err := zstd.NewWriter(s.Writer)
		if err != nil {
			return err
		}
		s.push(enc, enc)
	case "lz4":
		w := lz4.NewWriter(s.Writer)
		s.push(w, w)
	case "brotli":
		w := brotli.NewWriterLevel(s.Writer, brotli.DefaultCompression)
		s.push(w, w)
	default:
		return fmt.Errorf("unknown compression %q", codec)
	}
	return nil
}

// PeakRecord is one peak as a parquet row.
type PeakRecord struct {
	Timestamp int64 `parquet:"timestamp"`
	Channel   int32 `parquet:"channel"`
	Height    int64 `parquet:"height"`
}

// NewParquetWriter creates a generic parquet writer with our schema and metadata
func NewParquetWriter(w io.Writer, config *filter.Config) *parquet.GenericWriter[PeakRecord] {
	configStr := "{}"
	if config != nil {
		b, _ := json.Marshal(config)
		configStr = string(b)
	}

	return parquet.NewGenericWriter[PeakRecord](w,
		parquet.KeyValueMetadata("config", configStr),
		parquet.KeyValueMetadata("record_size", fmt.Sprint(hw.RecordSize)),
	)
}

// ParquetWriteAdapter adapts a Parquet writer to io.WriteCloser
// It buffers bytes and writes them as Parquet rows when full records are available
type ParquetWriteAdapter struct {
	writer *parquet.GenericWriter[PeakRecord]
	buffer []byte
	rows   []PeakRecord
}

func NewParquetWriteAdapter(w io.Writer, config *filter.Config) *ParquetWriteAdapter {
	return &ParquetWriteAdapter{
		writer: NewParquetWriter(w, config),
	}
}

func (p *ParquetWriteAdapter) Write(data []byte) (int, error) {
	p.buffer = append(p.buffer, data...)

	full := len(p.buffer) / hw.RecordSize
	if full == 0 {
		return len(data), nil
	}

	p.rows = p.rows[:0]
	for i := 0; i < full; i++ {
		rec := hw.DecodeRecord(p.buffer[i*hw.RecordSize:])
		p.rows = append(p.rows, PeakRecord{
			Timestamp: int64(rec.Timestamp),
			Channel:   int32(rec.Channel),
			Height:    int64(rec.Height),
		})
	}
	if _, err := p.writer.Write(p.rows); err != nil {
		return 0, err
	}

	// Keep the trailing partial record
	n := copy(p.buffer, p.buffer[full*hw.RecordSize:])
	p.buffer = p.buffer[:n]

	return len(data), nil
}

// Pending returns the number of bytes of an incomplete trailing record.
func (p *ParquetWriteAdapter) Pending() int { return len(p.buffer) }

func (p *ParquetWriteAdapter) Close() error {
	if len(p.buffer) > 0 {
		filter.Logger(filter.ComponentCapture).Warn("dropping partial peak record", "bytes", len(p.buffer))
	}
	return p.writer.Close()
}
