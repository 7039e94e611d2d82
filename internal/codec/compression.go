package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// validBase64Chars is the RFC 4648 standard alphabet plus padding,
// used by the lenient decode path to strip anything a lossy transport
// hop may have mangled.
const validBase64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

// CompressEncode brotli-compresses data and base64-encodes the result.
func CompressEncode(data []byte) (string, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("codec: brotli write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("codec: brotli close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CompressDecode reverses CompressEncode. If the straight decode fails,
// it strips any character outside the base64 alphabet and retries with
// each of 0-3 trailing '=' padding characters, returning the first
// attempt that both base64-decodes and brotli-decompresses. This
// leniency accommodates historical fragments that were hex-truncated at
// a transport boundary.
func CompressDecode(s string) ([]byte, error) {
	if out, err := decodeOnce(s); err == nil {
		return out, nil
	}

	stripped := stripInvalidBase64(s)
	for pad := 0; pad <= 3; pad++ {
		candidate := stripped + strings.Repeat("=", pad)
		if out, err := decodeOnce(candidate); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: all lenient decode attempts failed", ErrCompression)
}

func decodeOnce(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	r := brotli.NewReader(bytes.NewReader(raw))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func stripInvalidBase64(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(validBase64Chars, r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), "=")
}
