package session

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
)

// CodecVersion prefixes every share code.
const CodecVersion = "WC01"

var (
	// ErrCodecVersion is returned for share codes from another codec version.
	ErrCodecVersion = errors.New("unsupported share code version")
	// ErrCodecFormat is returned for strings that are not share codes.
	ErrCodecFormat = errors.New("malformed share code")
	// ErrCodecChecksum is returned when the embedded checksum does not match.
	ErrCodecChecksum = errors.New("share code checksum mismatch")
)

// EncodeShareCode packs a credential into a portable string so a login can be
// moved between machines without scanning the QR code again.
//
// Layout: "WC01" + base64url(zlib(json) + crc32be(zlib(json))), unpadded.
func EncodeShareCode(c Credential) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal credential: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("failed to compress credential: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress credential: %w", err)
	}

	compressed := buf.Bytes()
	payload := binary.BigEndian.AppendUint32(bytes.Clone(compressed), crc32.ChecksumIEEE(compressed))
	return CodecVersion + base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeShareCode reverses EncodeShareCode and validates the result.
func DecodeShareCode(code string) (Credential, error) {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, CodecVersion) {
		if strings.HasPrefix(code, "WC") && len(code) >= len(CodecVersion) {
			return Credential{}, fmt.Errorf("%w: %s", ErrCodecVersion, code[:len(CodecVersion)])
		}
		return Credential{}, fmt.Errorf("%w: missing %s prefix", ErrCodecFormat, CodecVersion)
	}

	body := strings.TrimRight(code[len(CodecVersion):], "=")
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCodecFormat, err)
	}
	if len(payload) < 5 {
		return Credential{}, fmt.Errorf("%w: payload too short", ErrCodecFormat)
	}

	compressed, sum := payload[:len(payload)-4], binary.BigEndian.Uint32(payload[len(payload)-4:])
	if crc32.ChecksumIEEE(compressed) != sum {
		return Credential{}, ErrCodecChecksum
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCodecFormat, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCodecFormat, err)
	}

	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCodecFormat, err)
	}
	if err := c.Validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}
