package parser

import (
	"fmt"
	"strings"

	"github.com/lhyang/ynab-butler/pkg/api"
)

const alipayDefaultAccount = "账户余额"

var alipayTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
}

// parseAlipay handles Alipay's CSV export. The file opens with a
// metadata block (account owner, export range) and the data header is
// the first row whose leading cell starts with 交易时间.
func parseAlipay(tbl *Table, maxBad float64) (*Result, error) {
	res := &Result{Platform: api.PlatformAlipay}

	headerIdx := -1
	for i, row := range tbl.Rows {
		first := cell(row, 0)
		if strings.HasPrefix(first, "交易时间") {
			headerIdx = i
			break
		}
		if strings.Contains(first, "支付宝账户") {
			res.Owner = afterColon(first)
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("%s: no 交易时间 header: %w", tbl.Source, api.ErrMalformedFile)
	}

	dateCol := findColumn(tbl.Rows[headerIdx], "交易时间")
	payeeCol := findColumn(tbl.Rows[headerIdx], "交易对方")
	memoCol := findColumn(tbl.Rows[headerIdx], "商品说明", "商品名称")
	dirCol := findColumn(tbl.Rows[headerIdx], "收/支")
	amountCol := findColumn(tbl.Rows[headerIdx], "金额")
	accountCol := findColumn(tbl.Rows[headerIdx], "收/付款方式", "支付方式")
	statusCol := findColumn(tbl.Rows[headerIdx], "交易状态")
	idCol := findColumn(tbl.Rows[headerIdx], "交易订单号", "交易号")

	for i := headerIdx + 1; i < len(tbl.Rows); i++ {
		row := tbl.Rows[i]
		line := i + 1
		if isBlankRow(row) {
			continue
		}

		dateStr := cell(row, dateCol)
		amountStr := cell(row, amountCol)
		switch {
		case dateStr == "":
			res.Skipped = append(res.Skipped, SkippedRow{Line: line, Reason: skipMissingDate})
			continue
		case amountStr == "":
			res.Skipped = append(res.Skipped, SkippedRow{Line: line, Reason: skipMissingAmount})
			continue
		}

		date, err := parseTimeIn(dateStr, cst, alipayTimeLayouts...)
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
		amount = signByDirection(amount, cell(row, dirCol))

		account := cell(row, accountCol)
		if account == "" || account == "/" {
			account = alipayDefaultAccount
		}

		res.Transactions = append(res.Transactions, api.Transaction{
			Date:       date,
			Amount:     amount,
			Currency:   api.PlatformAlipay.HomeCurrency(),
			Payee:      cell(row, payeeCol),
			Memo:       cell(row, memoCol),
			AccountRef: account,
			Owner:      res.Owner,
			Status:     cell(row, statusCol),
			Platform:   api.PlatformAlipay,
			SourceID:   cell(row, idCol),
		})
	}

	if err := checkBadFraction(res, tbl.Source, maxBad); err != nil {
		return nil, err
	}
	return res, nil
}

// signByDirection applies the 收/支 column to an unsigned amount:
// 支出 is money out, everything else keeps the positive sign.
func signByDirection(amount int64, direction string) int64 {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if strings.Contains(direction, "支出") {
		return -abs
	}
	return abs
}

// findColumn returns the index of the first header cell matching one of
// the given names (prefix match, export headers sometimes carry a unit
// suffix), or -1.
func findColumn(header []string, names ...string) int {
	for i, c := range header {
		c = strings.TrimSpace(c)
		for _, n := range names {
			if strings.HasPrefix(c, n) {
				return i
			}
		}
	}
	return -1
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
