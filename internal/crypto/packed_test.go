package crypto

import (
	"bytes"
	"errors"
	"testing"
)

type samplePayload struct {
	Notes    []string          `json:"notes"`
	Settings map[string]string `json:"settings"`
}

func TestPackUnpackValueRoundTrip(t *testing.T) {
	key := testKey(t)
	in := samplePayload{
		Notes:    []string{"first", "second"},
		Settings: map[string]string{"theme": "dark"},
	}
	packed, err := PackValue(in, key)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	var out samplePayload
	if err := UnpackValue(packed, key, &out); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if len(out.Notes) != 2 || out.Notes[0] != "first" || out.Settings["theme"] != "dark" {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

func TestPackBytesCompressesRepetitiveData(t *testing.T) {
	key := testKey(t)
	raw := bytes.Repeat([]byte("abcdefgh"), 4096)
	packed, err := PackBytes(raw, key)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if len(packed) >= len(raw) {
		t.Fatalf("expected compression to win on repetitive input: %d >= %d", len(packed), len(raw))
	}
	got, err := UnpackBytes(packed, key)
	if err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("round trip should be byte-exact")
	}
}

func TestUnpackValueWrongKey(t *testing.T) {
	packed, err := PackValue(map[string]int{"a": 1}, testKey(t))
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	var out map[string]int
	if err := UnpackValue(packed, testKey(t), &out); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestUnpackValueMalformedInput(t *testing.T) {
	key := testKey(t)
	var out map[string]int
	if err := UnpackValue("%%%not-base64%%%", key, &out); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for bad base64, got %v", err)
	}
	if err := UnpackValue("bm90LWpzb24=", key, &out); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for bad blob, got %v", err)
	}
}
