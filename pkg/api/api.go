// Package api defines the core data structures shared across the import pipeline.
package api

import (
	"fmt"
	"time"
)

// Platform identifies the payment platform an export file came from.
// The set is closed: parsers are dispatched through a fixed table keyed
// by Platform, there is no open registration.
type Platform string

const (
	PlatformAlipay  Platform = "alipay"
	PlatformWeChat  Platform = "wechat"
	PlatformGeneric Platform = "generic"
)

// HomeCurrency returns the currency assumed for the platform's exports
// when a file carries no currency column.
func (p Platform) HomeCurrency() string {
	return "CNY"
}

// Origin tells which ingestion path produced an Item.
type Origin int

const (
	OriginLocal Origin = iota
	OriginEmail
)

func (o Origin) String() string {
	if o == OriginEmail {
		return "email"
	}
	return "local"
}

// Item is a raw source item discovered by one of the ingestion paths.
// Identity is the dedup key: the absolute file path for local items, or
// "email:<mailbox>:<uid>:<attachment>" for mail items. It must be stable
// across runs. Items are immutable once created.
type Item struct {
	Origin   Origin
	Identity string
	// Name is the file name used for platform detection and display.
	Name    string
	Data    []byte
	ModTime time.Time
	// Sender is set for email items only; it scopes passphrase lookups
	// and serves as the fallback grouping label.
	Sender string
}

// Transaction is a normalized, platform-independent transaction record.
// Amount is in milliunits (YNAB's native representation of minor units);
// negative means money leaving the tracked account. Immutable once
// produced by a parser.
type Transaction struct {
	Date     time.Time
	Amount   int64
	Currency string
	Payee    string
	Memo     string
	// AccountRef is the platform-specific source account string
	// (e.g. 余额宝, 零钱). Never empty: parsers substitute a platform
	// default when the source table omits it.
	AccountRef string
	// Owner is the export owner extracted from the file's metadata block
	// (Alipay account line, WeChat nickname). Empty when unknown.
	Owner string
	// Status carries the source's settlement status verbatim; the upload
	// layer derives the cleared flag from it.
	Status   string
	Platform Platform
	SourceID string
}

// ImportIDKey groups transactions that would collide under YNAB's
// import-id scheme so the uploader can assign occurrence counters.
func (t Transaction) ImportIDKey() string {
	return fmt.Sprintf("%d:%s", t.Amount, t.Date.Format("2006-01-02"))
}
