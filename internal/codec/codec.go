package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"termcal/internal/model"
)

// ErrDecode marks every failure to recover a calendar from its encoded
// form. It is distinct from validation errors: the input is corrupt or
// foreign, not merely inconsistent.
var ErrDecode = errors.New("failed to decode calendar")

// maxDecodedSize bounds decompression of untrusted input.
const maxDecodedSize = 16 << 20

// Encode serializes a calendar to JSON, gzips it and encodes the result as
// URL-safe base64 without padding. The gzip header carries no name or
// timestamp, so equal calendars always encode to equal strings.
func Encode(cal model.Calendar) (string, error) {
	data, err := json.Marshal(cal)
	if err != nil {
		return "", fmt.Errorf("codec: marshal calendar: %w", err)
	}
	return encodeRaw(data)
}

func encodeRaw(data []byte) (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("codec: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("codec: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("codec: compress: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. Every failure wraps ErrDecode.
func Decode(s string) (model.Calendar, error) {
	var cal model.Calendar

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return cal, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return cal, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, maxDecodedSize+1))
	if err != nil {
		return cal, fmt.Errorf("%w: gzip: %v", ErrDecode, err)
	}
	if len(data) > maxDecodedSize {
		return cal, fmt.Errorf("%w: decoded calendar exceeds %d bytes", ErrDecode, maxDecodedSize)
	}

	if err := json.Unmarshal(data, &cal); err != nil {
		return model.Calendar{}, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	return cal, nil
}

// ProductID embeds an encoded calendar in a feed product identifier:
// "-//<namespace>//<encoded>//EN".
func ProductID(namespace, encoded string) string {
	return "-//" + namespace + "//" + encoded + "//EN"
}

// ExtractEncoded returns the encoded calendar from a product identifier
// built by ProductID: the third "//"-separated segment.
func ExtractEncoded(prodID string) (string, error) {
	parts := strings.Split(strings.TrimSpace(prodID), "//")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: product id %q carries no calendar", ErrDecode, prodID)
	}
	return parts[2], nil
}
