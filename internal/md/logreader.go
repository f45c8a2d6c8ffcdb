package md

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

const logTimeLayout = "2006-01-02 15:04:05"

// LogReader reads a price log of "YYYY-MM-DD HH:MM:SS[.ffffff] SYMBOL PRICE"
// lines. Files ending in .gz are decompressed on the fly.
type LogReader struct {
	path    string
	file    *os.File
	gz      *gzip.Reader
	scanner *bufio.Scanner
	line    int
}

func OpenLog(path string) (*LogReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open price log: %w", err)
	}
	r := &LogReader{path: path, file: file}
	var src io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("open gzip price log %s: %w", path, err)
		}
		r.gz = gz
		src = gz
	}
	r.scanner = bufio.NewScanner(src)
	return r, nil
}

// Next returns the next well-formed tick. Malformed lines are logged and
// skipped. io.EOF signals the end of the log.
func (r *LogReader) Next() (Tick, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		tick, err := ParseLogLine(text)
		if err != nil {
			log.Warn().Str("path", r.path).Int("line", r.line).Err(err).Msg("skipping price log line")
			continue
		}
		return tick, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Tick{}, fmt.Errorf("read %s: %w", r.path, err)
	}
	return Tick{}, io.EOF
}

func (r *LogReader) Close() error {
	if r.gz != nil {
		_ = r.gz.Close()
	}
	return r.file.Close()
}

// ParseLogLine parses a single price log line.
func ParseLogLine(line string) (Tick, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Tick{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	ts, err := time.Parse(logTimeLayout, fields[0]+" "+fields[1])
	if err != nil {
		return Tick{}, fmt.Errorf("parse time: %w", err)
	}
	price, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Tick{}, fmt.Errorf("parse price: %w", err)
	}
	if price <= 0 {
		return Tick{}, fmt.Errorf("non-positive price %v", price)
	}
	return Tick{Symbol: fields[2], Time: ts.UTC(), Price: price}, nil
}
