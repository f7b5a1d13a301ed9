package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/lhyang/ynab-butler/pkg/api"
)

const genericDefaultAccount = "default"

var genericTimeLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

type genericCols struct {
	date, amount, payee, memo, account, status, currency int
}

// genericColumns maps a header row to column indexes by keyword,
// case-insensitive and bilingual. date and amount are mandatory for
// the schema to count as recognized.
func genericColumns(header []string) genericCols {
	cols := genericCols{date: -1, amount: -1, payee: -1, memo: -1, account: -1, status: -1, currency: -1}
	for i, c := range header {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "date", "transaction date", "日期", "交易日期":
			cols.date = i
		case "amount", "value", "金额":
			cols.amount = i
		case "payee", "merchant", "description", "对方", "交易对方", "描述":
			if cols.payee < 0 {
				cols.payee = i
			}
		case "memo", "note", "notes", "备注":
			cols.memo = i
		case "account", "账户":
			cols.account = i
		case "status", "状态":
			cols.status = i
		case "currency", "币种":
			cols.currency = i
		}
	}
	return cols
}

// parseGeneric handles plain English-header CSVs from banks without a
// dedicated parser. A table whose header lacks the date and amount
// columns is rejected as an unrecognized schema, not as malformed.
func parseGeneric(tbl *Table, maxBad float64) (*Result, error) {
	res := &Result{Platform: api.PlatformGeneric}

	headerIdx := -1
	var cols genericCols
	for i, row := range tbl.Rows {
		if i >= classifyScanRows {
			break
		}
		if isBlankRow(row) {
			continue
		}
		cols = genericColumns(row)
		if cols.date >= 0 && cols.amount >= 0 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("%s: no date/amount header: %w", tbl.Source, api.ErrUnrecognizedSchema)
	}

	for i := headerIdx + 1; i < len(tbl.Rows); i++ {
		row := tbl.Rows[i]
		line := i + 1
		if isBlankRow(row) {
			continue
		}

		dateStr := cell(row, cols.date)
		amountStr := cell(row, cols.amount)
		switch {
		case dateStr == "":
			res.Skipped = append(res.Skipped, SkippedRow{Line: line, Reason: skipMissingDate})
			continue
		case amountStr == "":
			res.Skipped = append(res.Skipped, SkippedRow{Line: line, Reason: skipMissingAmount})
			continue
		}

		// Generic exports carry no zone hint, so dates are read in the
		// machine's local zone rather than the platform zone.
		date, err := parseTimeIn(dateStr, time.Local, genericTimeLayouts...)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRow{Line: line, Reason: skipBadDate})
			continue
		}
		amount, err := parseMilliunits(amountStr)
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedRow{Line: line, Reason: skipBadAmount})
			continue
		}
		if amount == 0 {
			res.Skipped = append(res.Skipped, SkippedRow{Line: line, Reason: skipZeroAmount})
			continue
		}

		currency := cell(row, cols.currency)
		if currency == "" {
			currency = api.PlatformGeneric.HomeCurrency()
		}
		account := cell(row, cols.account)
		if account == "" {
			account = genericDefaultAccount
		}

		res.Transactions = append(res.Transactions, api.Transaction{
			Date:       date,
			Amount:     amount,
			Currency:   currency,
			Payee:      cell(row, cols.payee),
			Memo:       cell(row, cols.memo),
			AccountRef: account,
			Status:     cell(row, cols.status),
			Platform:   api.PlatformGeneric,
		})
	}

	if err := checkBadFraction(res, tbl.Source, maxBad); err != nil {
		return nil, err
	}
	return res, nil
}
