// Package textenc decodes export files whose encoding is not declared.
package textenc

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/lhyang/ynab-butler/pkg/api"
)

// candidate pairs a name with its decoder factory. Order is the fixed
// decode priority: UTF-8 first, then the simplified-Chinese encodings.
// GB2312 is a strict subset of GBK, so the GBK decoder covers both.
type candidate struct {
	name string
	enc  encoding.Encoding
}

var candidates = []candidate{
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
}

// Decode converts raw bytes to a UTF-8 string, trying each candidate
// encoding in priority order and accepting the first clean decode. The
// x/text decoders substitute U+FFFD for bytes they cannot map, so a
// decode that produced any replacement rune is treated as a failure.
func Decode(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}
	for _, c := range candidates {
		decoded, err := c.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		if !strings.ContainsRune(string(decoded), utf8.RuneError) {
			return string(decoded), c.name, nil
		}
	}
	return "", "", fmt.Errorf("tried utf-8, gbk, gb18030: %w", api.ErrUndecodableText)
}
