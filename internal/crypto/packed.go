package crypto

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// PackBytes compresses raw, seals it, and flattens the result into a
// single transport-safe string: gzip -> Seal -> JSON -> base64.
func PackBytes(raw, key []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}

	blob, err := Seal(buf.Bytes(), key)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// UnpackBytes is the exact inverse of PackBytes.
func UnpackBytes(packed string, key []byte) ([]byte, error) {
	encoded, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrAuthenticationFailed)
	}
	var blob EncryptedBlob
	if err := json.Unmarshal(encoded, &blob); err != nil {
		return nil, fmt.Errorf("%w: malformed blob", ErrAuthenticationFailed)
	}
	compressed, err := Open(blob, key)
	if err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return raw, nil
}

// PackValue JSON-marshals v and packs the canonical bytes.
func PackValue(v any, key []byte) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return PackBytes(raw, key)
}

// UnpackValue unpacks and unmarshals into out.
func UnpackValue(packed string, key []byte, out any) error {
	raw, err := UnpackBytes(packed, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
