package processor

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
)

// maxRowBytes bounds a single JSON-lines row.
const maxRowBytes = 16 * 1024 * 1024

// decodableObject reports whether an object key looks like a JSON-lines
// data file. Marker objects (_SUCCESS, checksums) and other formats are
// skipped.
func decodableObject(key string) bool {
	k := strings.ToLower(key)
	k = strings.TrimSuffix(k, ".gz")
	k = strings.TrimSuffix(k, ".snappy")
	return strings.HasSuffix(k, ".json") || strings.HasSuffix(k, ".jsonl")
}

// readRows streams rows out of a local JSON-lines file, one object per
// line. Gzip streams and snappy block encoding are detected by extension;
// snappy files hold one block over the whole payload.
func readRows(path string, fn func(row map[string]any) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".snappy"):
		raw, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		decoded, err := snappy.Decode(nil, raw)
		if err != nil {
			return fmt.Errorf("snappy %s: %w", path, err)
		}
		r = bytes.NewReader(decoded)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxRowBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return fmt.Errorf("decode %s line %d: %w", path, line, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}
