package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vnykmshr/datacache-go/pkg/record"
)

func sampleRecord() *record.Record {
	return &record.Record{
		Data: record.Data{
			"Coins": 10,
			"Name":  "builder",
			"Inv":   []any{"sword", "shield"},
			"Opts":  map[string]any{"Music": true},
		},
		Version:    3,
		Session:    &record.Session{Active: true, Owner: "place:job", Timestamp: 1700000000},
		LastJoined: 1700000000,
	}
}

func TestCodecFormats(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatMsgpack} {
		t.Run(string(format), func(t *testing.T) {
			c, err := New(NewDefaultConfig().WithFormat(format))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			in := sampleRecord()
			raw, err := c.Marshal(in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			out, err := c.Unmarshal(raw)
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}

			if !record.Equal(in.Data, out.Data) {
				t.Fatalf("Data mismatch: %v vs %v", in.Data, out.Data)
			}
			if out.Version != 3 || !out.OwnedBy("place:job") || out.LastLeft != 0 {
				t.Fatalf("Metadata mismatch: %+v", out)
			}
		})
	}
}

func TestCodecCompressesLargePayloads(t *testing.T) {
	c, err := New(NewDefaultConfig().WithCompression(AlgorithmGzip, 64))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	r := record.New(record.Data{"Bio": strings.Repeat("hello ", 200)})
	raw, err := c.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !isGzip(raw) {
		t.Fatal("Expected gzip payload")
	}
	if c.Name() != "json+gzip" {
		t.Fatalf("Unexpected codec name %q", c.Name())
	}

	plain, _ := New(NewDefaultConfig())
	out, err := plain.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Plain codec failed to read compressed payload: %v", err)
	}
	if out.Data["Bio"] != r.Data["Bio"] {
		t.Fatal("Decompressed payload mismatch")
	}
}

func TestCodecSkipsSmallPayloads(t *testing.T) {
	c, _ := New(NewDefaultConfig().WithCompression(AlgorithmDeflate, 4096))

	raw, err := c.Marshal(record.New(record.Data{"Coins": 1}))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("{")) {
		t.Fatalf("Expected plain JSON, got %q", raw)
	}
}

func TestCodecDeflateRoundTrip(t *testing.T) {
	c, _ := New(NewDefaultConfig().WithFormat(FormatMsgpack).WithCompression(AlgorithmDeflate, 1))

	r := record.New(record.Data{"Log": strings.Repeat("abc", 500)})
	raw, err := c.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !isZlib(raw) {
		t.Fatal("Expected zlib payload")
	}
	out, err := c.Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.Data["Log"] != r.Data["Log"] {
		t.Fatal("Payload mismatch")
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(&Config{Format: "xml"}); err == nil {
		t.Fatal("Expected error for unknown format")
	}
	if _, err := New(&Config{Compression: "lz4"}); err == nil {
		t.Fatal("Expected error for unknown compression")
	}
}
