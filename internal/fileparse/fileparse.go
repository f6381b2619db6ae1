// internal/fileparse/fileparse.go
// Package fileparse turns raw file bytes into JSON-shaped values: optional
// decompression followed by CSV, JSON or XML parsing with auto-detection.
package fileparse

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	mxj "github.com/clbanning/mxj/v2"

	"github.com/apiweld/apiweld/internal/types"
)

// Decompress applies the given method to data. AUTO sniffs by magic bytes and
// falls back to identity when no known container is detected.
func Decompress(data []byte, method types.DecompressionMethod) ([]byte, error) {
	switch method {
	case types.DecompressNone, "":
		return data, nil
	case types.DecompressGzip:
		return gunzip(data)
	case types.DecompressDeflate:
		return inflate(data)
	case types.DecompressZip:
		return unzipFirst(data)
	case types.DecompressAuto:
		return Decompress(data, sniffCompression(data))
	default:
		return nil, &types.ConfigError{Msg: fmt.Sprintf("unknown decompression method %q", method)}
	}
}

func sniffCompression(data []byte) types.DecompressionMethod {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return types.DecompressGzip
	case len(data) >= 4 && bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return types.DecompressZip
	case len(data) >= 2 && data[0] == 0x78:
		return types.DecompressDeflate
	default:
		return types.DecompressNone
	}
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip: %w", err)
	}
	return out, nil
}

func inflate(data []byte) ([]byte, error) {
	// A zlib wrapper is the common transport framing for "deflate"; raw
	// streams have no header byte.
	if len(data) >= 2 && data[0] == 0x78 {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err == nil {
			defer r.Close()
			out, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress zlib: %w", err)
			}
			return out, nil
		}
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress deflate: %w", err)
	}
	return out, nil
}

func unzipFirst(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
		}
		defer rc.Close()
		out, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read zip entry %s: %w", f.Name, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("zip archive contains no files")
}

var attrPrefixOnce sync.Once

// Parse converts file bytes into a JSON value. AUTO dispatches on the first
// non-whitespace byte: '{' or '[' means JSON, '<' means XML, anything else CSV.
func Parse(data []byte, ft types.FileType) (any, error) {
	switch ft {
	case types.FileAuto, "":
		return Parse(data, sniffType(data))
	case types.FileJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return v, nil
	case types.FileXML:
		attrPrefixOnce.Do(func() { mxj.SetAttrPrefix("@") })
		mv, err := mxj.NewMapXml(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}
		return map[string]any(mv), nil
	case types.FileCSV:
		return parseCSV(data)
	default:
		return nil, &types.ConfigError{Msg: fmt.Sprintf("unknown file type %q", ft)}
	}
}

func sniffType(data []byte) types.FileType {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return types.FileCSV
	}
	switch trimmed[0] {
	case '{', '[':
		return types.FileJSON
	case '<':
		return types.FileXML
	default:
		return types.FileCSV
	}
}

// parseCSV reads an RFC 4180 document with a header row, producing one object
// per record with typed field values.
func parseCSV(data []byte) (any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return []any{}, nil
	}
	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i >= len(rec) {
				break
			}
			row[name] = typedValue(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func typedValue(s string) any {
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
