package tensor

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names a tensor file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// ErrUnknownFormat is returned for unsupported file extensions or format names.
var ErrUnknownFormat = errors.New("unknown tensor format")

// ParseFormat accepts json, yaml/yml and csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatFromPath derives the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// IsSupportedFile reports whether path has a tensor file extension.
func IsSupportedFile(path string) bool {
	_, err := FormatFromPath(path)
	return err == nil
}

// ReadFile loads a tensor, choosing the decoder by extension.
func ReadFile(path string) (Tensor, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return Tensor{}, err
	}
	f, err := os.Open(path) //nolint:gosec // G304: user-provided input path
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to open tensor file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing %s: %v\n", path, err)
		}
	}()
	t, err := Read(f, format)
	if err != nil {
		return Tensor{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Read decodes a tensor in the given format.
//
// JSON and YAML accept either an object {"shape": [...], "data": [...]} with
// flat row-major data, or nested arrays of any depth. CSV holds one timestep
// per row. Only the data length is checked; Batch and Frames enforce the
// decoder layout.
func Read(r io.Reader, format Format) (Tensor, error) {
	switch format {
	case FormatJSON:
		var v any
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return Tensor{}, fmt.Errorf("failed to decode json: %w", err)
		}
		return fromValue(v)
	case FormatYAML:
		var v any
		if err := yaml.NewDecoder(r).Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return Tensor{}, fmt.Errorf("%w: empty document", ErrShape)
			}
			return Tensor{}, fmt.Errorf("failed to decode yaml: %w", err)
		}
		return fromValue(v)
	case FormatCSV:
		return readCSV(r)
	}
	return Tensor{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Decode is Read over an in-memory document.
func Decode(b []byte, format Format) (Tensor, error) {
	return Read(bytes.NewReader(b), format)
}

// fromValue converts a generic JSON/YAML document into a Tensor.
func fromValue(v any) (Tensor, error) {
	switch doc := v.(type) {
	case map[string]any:
		return fromObject(doc)
	case []any:
		return fromNested(doc)
	}
	return Tensor{}, fmt.Errorf("%w: document must be an object or an array, got %T", ErrShape, v)
}

func fromObject(doc map[string]any) (Tensor, error) {
	rawShape, ok := doc["shape"].([]any)
	if !ok {
		return Tensor{}, fmt.Errorf("%w: missing \"shape\" array", ErrShape)
	}
	rawData, ok := doc["data"].([]any)
	if !ok {
		return Tensor{}, fmt.Errorf("%w: missing \"data\" array", ErrShape)
	}
	shape := make([]int64, len(rawShape))
	for i, s := range rawShape {
		f, err := toFloat(s)
		if err != nil {
			return Tensor{}, fmt.Errorf("shape[%d]: %w", i, err)
		}
		if f != math.Trunc(f) || f < 0 || f > MaxDimension {
			return Tensor{}, fmt.Errorf("%w: shape[%d] = %v is not a dimension", ErrShape, i, f)
		}
		shape[i] = int64(f)
	}
	data := make([]float32, len(rawData))
	for i, d := range rawData {
		f, err := toFloat(d)
		if err != nil {
			return Tensor{}, fmt.Errorf("data[%d]: %w", i, err)
		}
		data[i] = float32(f)
	}
	return sized(data, shape)
}

func sized(data []float32, shape []int64) (Tensor, error) {
	t := Tensor{Data: data, Shape: shape}
	if err := t.CheckSize(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// fromNested infers the shape of nested arrays from their first elements and
// requires every sibling to match it.
func fromNested(doc []any) (Tensor, error) {
	shape := nestedShape(doc)
	if len(shape) == 1 && shape[0] == 0 {
		// An empty array is a sequence without timesteps.
		return Tensor{Data: []float32{}, Shape: []int64{0, 0}}, nil
	}
	size := 1
	for _, d := range shape {
		size *= int(d)
	}
	data := make([]float32, 0, size)
	if err := flatten(doc, shape, &data, ""); err != nil {
		return Tensor{}, err
	}
	return sized(data, shape)
}

func nestedShape(v any) []int64 {
	var shape []int64
	for {
		arr, ok := v.([]any)
		if !ok {
			return shape
		}
		shape = append(shape, int64(len(arr)))
		if len(arr) == 0 {
			return shape
		}
		v = arr[0]
	}
}

func flatten(v any, shape []int64, out *[]float32, path string) error {
	if len(shape) == 0 {
		f, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*out = append(*out, float32(f))
		return nil
	}
	arr, ok := v.([]any)
	if !ok || int64(len(arr)) != shape[0] {
		return fmt.Errorf("%w: ragged array at %s", ErrShape, orRoot(path))
	}
	for i, item := range arr {
		if err := flatten(item, shape[1:], out, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func orRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%w: expected a number, got %T", ErrShape, v)
}

func readCSV(r io.Reader) (Tensor, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return Tensor{Data: []float32{}, Shape: []int64{0, 0}}, nil
	}
	classes := len(records[0])
	data := make([]float32, 0, len(records)*classes)
	for i, rec := range records {
		for j, field := range rec {
			f, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return Tensor{}, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			data = append(data, float32(f))
		}
	}
	return New(data, []int64{int64(len(records)), int64(classes)})
}

// WriteFile stores t, choosing the encoder by extension.
func WriteFile(path string, t Tensor) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Write(&buf, t, format); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// Write encodes t. JSON and YAML use the {shape, data} object form; CSV
// requires a single sequence.
func Write(w io.Writer, t Tensor, format Format) error {
	if err := t.CheckSize(); err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return err
		}
		return enc.Close()
	case FormatCSV:
		frames, err := t.Frames()
		if err != nil {
			return err
		}
		cw := csv.NewWriter(w)
		for _, row := range frames {
			rec := make([]string, len(row))
			for i, v := range row {
				rec[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
