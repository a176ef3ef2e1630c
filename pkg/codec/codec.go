// Package codec serializes records for byte-oriented backing stores, with
// optional compression of large payloads.
package codec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

// Codec converts records to and from bytes
type Codec interface {
	Marshal(r *record.Record) ([]byte, error)
	Unmarshal(data []byte) (*record.Record, error)
	Name() string
}

// Format selects the serialization format
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// Algorithm selects the compression algorithm
type Algorithm string

const (
	AlgorithmNone    Algorithm = "none"
	AlgorithmGzip    Algorithm = "gzip"
	AlgorithmDeflate Algorithm = "deflate"
)

// Config holds codec configuration
type Config struct {
	// Format is the serialization format (default: json)
	Format Format

	// Compression is applied to payloads of at least MinSize bytes
	Compression Algorithm

	// MinSize is the smallest serialized size that gets compressed
	MinSize int

	// Level is the compression level (-1 for the library default)
	Level int
}

// NewDefaultConfig returns an uncompressed JSON codec configuration
func NewDefaultConfig() *Config {
	return &Config{
		Format:      FormatJSON,
		Compression: AlgorithmNone,
		MinSize:     1024,
		Level:       -1,
	}
}

// WithFormat sets the serialization format
func (c *Config) WithFormat(format Format) *Config {
	c.Format = format
	return c
}

// WithCompression enables compression above minSize bytes
func (c *Config) WithCompression(algorithm Algorithm, minSize int) *Config {
	c.Compression = algorithm
	c.MinSize = minSize
	return c
}

// New builds a codec from the configuration
func New(config *Config) (Codec, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	var base serializer
	switch config.Format {
	case FormatJSON, "":
		base = jsonSerializer{}
	case FormatMsgpack:
		base = msgpackSerializer{}
	default:
		return nil, fmt.Errorf("unsupported codec format: %s", config.Format)
	}

	switch config.Compression {
	case AlgorithmNone, "", AlgorithmGzip, AlgorithmDeflate:
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Compression)
	}

	return &codec{
		base:      base,
		algorithm: config.Compression,
		minSize:   config.MinSize,
		level:     config.Level,
	}, nil
}

type serializer interface {
	marshal(r *record.Record) ([]byte, error)
	unmarshal(data []byte, r *record.Record) error
	name() string
}

type jsonSerializer struct{}

func (jsonSerializer) marshal(r *record.Record) ([]byte, error) { return json.Marshal(r) }
func (jsonSerializer) unmarshal(data []byte, r *record.Record) error {
	return json.Unmarshal(data, r)
}
func (jsonSerializer) name() string { return string(FormatJSON) }

type msgpackSerializer struct{}

func (msgpackSerializer) marshal(r *record.Record) ([]byte, error) { return msgpack.Marshal(r) }
func (msgpackSerializer) unmarshal(data []byte, r *record.Record) error {
	return msgpack.Unmarshal(data, r)
}
func (msgpackSerializer) name() string { return string(FormatMsgpack) }

type codec struct {
	base      serializer
	algorithm Algorithm
	minSize   int
	level     int
}

// Marshal serializes r and compresses the result when it is large enough and
// compression actually shrinks it.
func (c *codec) Marshal(r *record.Record) ([]byte, error) {
	serialized, err := c.base.marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}

	if c.algorithm == AlgorithmNone || c.algorithm == "" || len(serialized) < c.minSize {
		return serialized, nil
	}

	compressed, err := compress(c.algorithm, c.level, serialized)
	if err != nil {
		return nil, fmt.Errorf("failed to compress record: %w", err)
	}
	if len(compressed) >= len(serialized) {
		return serialized, nil
	}
	return compressed, nil
}

// Unmarshal detects compressed payloads by their magic bytes, so records
// written with a different compression setting remain readable.
func (c *codec) Unmarshal(data []byte) (*record.Record, error) {
	payload, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record: %w", err)
	}

	r := &record.Record{}
	if err := c.base.unmarshal(payload, r); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}
	return r, nil
}

// Name returns format and compression, e.g. "json+gzip"
func (c *codec) Name() string {
	if c.algorithm == AlgorithmNone || c.algorithm == "" {
		return c.base.name()
	}
	return c.base.name() + "+" + string(c.algorithm)
}

func compress(algorithm Algorithm, level int, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error

	switch algorithm {
	case AlgorithmGzip:
		w, err = gzip.NewWriterLevel(&buf, level)
	case AlgorithmDeflate:
		w, err = zlib.NewWriterLevel(&buf, level)
	default:
		return data, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	var r io.ReadCloser
	var err error

	switch {
	case isGzip(data):
		r, err = gzip.NewReader(bytes.NewReader(data))
	case isZlib(data):
		r, err = zlib.NewReader(bytes.NewReader(data))
	default:
		return data, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// zlib streams start with CMF 0x78 and a header checksum that is a multiple of 31
func isZlib(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x78 && (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}
