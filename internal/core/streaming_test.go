package core

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func TestDecodeReader(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "plain ascii",
			input: []byte("navn;adresse\nOla;Storgata 1\n"),
			want:  "navn;adresse\nOla;Storgata 1\n",
		},
		{
			name:  "valid norwegian utf-8",
			input: []byte("Bjørn Åsheim;Grünerløkka"),
			want:  "Bjørn Åsheim;Grünerløkka",
		},
		{
			name:  "bom stripped",
			input: []byte("\xEF\xBB\xBFnavn;adresse"),
			want:  "navn;adresse",
		},
		{
			name:  "bom only",
			input: []byte("\xEF\xBB\xBF"),
			want:  "",
		},
		{
			name:  "empty file",
			input: nil,
			want:  "",
		},
		{
			name:  "file shorter than bom probe",
			input: []byte("ab"),
			want:  "ab",
		},
		{
			name:  "single byte file",
			input: []byte("x"),
			want:  "x",
		},
		{
			// 0xF8 is ø in Latin-1 and never valid in UTF-8.
			name:  "latin-1 bytes replaced",
			input: []byte("J\xF8rgen;Storgata 1"),
			want:  "J?rgen;Storgata 1",
		},
		{
			name:  "bom plus latin-1",
			input: []byte("\xEF\xBB\xBFJ\xF8rgen"),
			want:  "J?rgen",
		},
		{
			name:  "lone continuation bytes",
			input: []byte("a\x80\x81b"),
			want:  "a??b",
		},
		{
			name:  "sequence truncated at end of file",
			input: []byte("abc\xC3"),
			want:  "abc?",
		},
		{
			// U+FFFD is EF BF BD; the BOM is EF BB BF. Only the BOM
			// gets stripped.
			name:  "replacement char is not a bom",
			input: []byte("\xEF\xBF\xBDabc"),
			want:  "�abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(decodeReader(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("decoded = %q, want %q", got, tt.want)
			}
		})
	}
}

// Multi-byte sequences must survive any split imposed by the underlying
// reader, and any caller buffer size.
func TestDecodeReader_SmallReads(t *testing.T) {
	input := []byte("\xEF\xBB\xBFBjørn 💡 Ås;J\xF8rgen")
	want := "Bjørn 💡 Ås;J?rgen"

	t.Run("one byte from source", func(t *testing.T) {
		r := decodeReader(iotest.OneByteReader(bytes.NewReader(input)))
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if string(got) != want {
			t.Errorf("decoded = %q, want %q", got, want)
		}
	})

	t.Run("one byte to caller", func(t *testing.T) {
		r := iotest.OneByteReader(decodeReader(bytes.NewReader(input)))
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if string(got) != want {
			t.Errorf("decoded = %q, want %q", got, want)
		}
	})
}

func TestBOMSkipper(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"bom and data", []byte("\xEF\xBB\xBFhello"), "hello"},
		{"no bom", []byte("hello"), "hello"},
		{"bom only", []byte("\xEF\xBB\xBF"), ""},
		{"empty", nil, ""},
		{"two bytes", []byte("hi"), "hi"},
		{"one byte", []byte("h"), "h"},
		{"partial bom kept", []byte("\xEF\xBB"), "\xEF\xBB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newBOMSkipper(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUTF8Sanitizer_SplitSequence(t *testing.T) {
	// One byte at a time forces every two-byte letter across a read
	// boundary.
	input := "æøå ÆØÅ"
	r := newUTF8Sanitizer(iotest.OneByteReader(bytes.NewReader([]byte(input))))

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != input {
		t.Errorf("got %q, want %q", got, input)
	}
}
