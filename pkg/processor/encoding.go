package processor

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/zerorag/zerorag/pkg/domain"
)

// decodeBytes converts raw file bytes to a string, trying UTF-8 first and
// falling back to Latin-1. The returned name records which encoding was
// used.
func decodeBytes(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("%w: unable to decode file content: %v", domain.ErrDecode, err)
	}
	return string(decoded), "latin-1", nil
}
