// Package parser turns platform export tables into normalized
// transactions. Each platform has a dedicated parse function and the
// set is closed; Parse dispatches through a fixed table.
package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lhyang/ynab-butler/pkg/api"
)

// cst is the zone Chinese platform exports record timestamps in.
var cst = time.FixedZone("CST", 8*3600)

// DefaultMaxBadRowFraction is the fraction of unparseable data rows a
// file may contain before it is rejected wholesale instead of imported
// with gaps.
const DefaultMaxBadRowFraction = 0.5

// Row-skip reasons reported in Result.Skipped.
const (
	skipMissingDate   = "missing-date"
	skipMissingAmount = "missing-amount"
	skipBadDate       = "bad-date"
	skipBadAmount     = "bad-amount"
	skipZeroAmount    = "zero-amount"
)

// SkippedRow records one data row the parser dropped and why. Line is
// the 1-based row number within the source table.
type SkippedRow struct {
	Line   int
	Reason string
}

// Result is the outcome of parsing one file.
type Result struct {
	Platform     api.Platform
	Owner        string
	Transactions []api.Transaction
	Skipped      []SkippedRow
}

type parseFunc func(tbl *Table, maxBad float64) (*Result, error)

var parsers = map[api.Platform]parseFunc{
	api.PlatformAlipay:  parseAlipay,
	api.PlatformWeChat:  parseWeChat,
	api.PlatformGeneric: parseGeneric,
}

// Parse runs the platform's parser over a loaded table. A file where
// more than maxBad of the data rows fail to parse is rejected with
// ErrMalformedFile; below that threshold the bad rows are skipped and
// reported in the result.
func Parse(platform api.Platform, tbl *Table, maxBad float64) (*Result, error) {
	fn, ok := parsers[platform]
	if !ok {
		return nil, fmt.Errorf("platform %s: %w", platform, api.ErrUnclassifiedFormat)
	}
	if maxBad <= 0 {
		maxBad = DefaultMaxBadRowFraction
	}
	return fn(tbl, maxBad)
}

// checkBadFraction rejects the whole file when too many data rows were
// unusable. Zero-amount rows count as deliberate skips, not damage.
func checkBadFraction(res *Result, source string, maxBad float64) error {
	bad := 0
	for _, s := range res.Skipped {
		if s.Reason != skipZeroAmount {
			bad++
		}
	}
	total := len(res.Transactions) + bad
	if total == 0 {
		return nil
	}
	if float64(bad)/float64(total) > maxBad {
		return fmt.Errorf("%s: %d of %d rows unusable: %w", source, bad, total, api.ErrMalformedFile)
	}
	return nil
}

// parseMilliunits converts a platform amount string to milliunits,
// stripping currency glyphs and thousands separators first.
func parseMilliunits(s string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '¥', '￥', ',', ' ', ' ':
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	return int64(math.Round(v * 1000)), nil
}

// parseTimeIn tries the platform timestamp layouts in order.
func parseTimeIn(s string, loc *time.Location, layouts ...string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// afterColon returns the text after the first full- or half-width
// colon, with surrounding brackets stripped. Metadata lines in both
// Alipay and WeChat exports use this shape.
func afterColon(s string) string {
	i := strings.IndexAny(s, ":：")
	if i < 0 {
		return ""
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	v := strings.TrimSpace(s[i+size:])
	v = strings.TrimPrefix(v, "[")
	v = strings.TrimSuffix(v, "]")
	return strings.TrimSpace(v)
}
