package session

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PointSink receives converted points. The slice is only valid for the
// duration of the call.
type PointSink interface {
	WritePoints(ctx context.Context, pts []Point) error
}

// Importer converts a foreign file into points.
type Importer interface {
	// Convert streams the points of src into sink, calling progress with the
	// running total after each batch. It returns early when ctx is done.
	Convert(ctx context.Context, src string, sink PointSink, progress func(n int)) error
}

// CSVImporter reads delimited text with three numeric columns: m/z,
// retention time and intensity. A first line that does not parse is treated
// as a header.
type CSVImporter struct {
	Comma     rune
	BatchSize int
}

// Convert implements Importer.
func (c CSVImporter) Convert(ctx context.Context, src string, sink PointSink, progress func(n int)) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	if c.Comma != 0 {
		r.Comma = c.Comma
	}
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true
	r.Comment = '#'

	size := c.BatchSize
	if size <= 0 {
		size = 5000
	}
	batch := make([]Point, 0, size)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.WritePoints(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		if progress != nil {
			progress(total)
		}
		return nil
	}

	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}

		p, err := parsePoint(rec)
		if err != nil {
			if line == 1 {
				continue
			}
			return fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		batch = append(batch, p)
		if len(batch) == size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("%w: no data points in %s", ErrFormat, src)
	}
	return nil
}

func parsePoint(rec []string) (Point, error) {
	if len(rec) < 3 {
		return Point{}, fmt.Errorf("expected 3 columns, got %d", len(rec))
	}
	var vals [3]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return Point{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return Point{Mz: vals[0], Rt: vals[1], Intensity: vals[2]}, nil
}
