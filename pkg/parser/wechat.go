package parser

import (
	"fmt"
	"strings"

	"github.com/lhyang/ynab-butler/pkg/api"
)

const wechatDefaultAccount = "零钱"

// wechatHeaderScanRows bounds the search for the embedded data header;
// WeChat puts roughly a dozen metadata rows above it.
const wechatHeaderScanRows = 50

var wechatTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
}

// parseWeChat handles WeChat Pay's export. Unlike Alipay the header is
// not anchored at column zero: it is the first row within the scan
// window carrying both a 交易时间 cell and a 金额 cell. Amounts come
// prefixed with a currency glyph.
func parseWeChat(tbl *Table, maxBad float64) (*Result, error) {
	res := &Result{Platform: api.PlatformWeChat}

	headerIdx := -1
	for i, row := range tbl.Rows {
		if i >= wechatHeaderScanRows {
			break
		}
		for _, c := range row {
			if strings.Contains(c, "微信昵称") {
				res.Owner = afterColon(c)
			}
		}
		if findColumn(row, "交易时间") >= 0 && findColumn(row, "金额") >= 0 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("%s: no data header in first %d rows: %w", tbl.Source, wechatHeaderScanRows, api.ErrMalformedFile)
	}

	header := tbl.Rows[headerIdx]
	dateCol := findColumn(header, "交易时间")
	payeeCol := findColumn(header, "交易对方")
	memoCol := findColumn(header, "商品")
	dirCol := findColumn(header, "收/支")
	amountCol := findColumn(header, "金额")
	accountCol := findColumn(header, "支付方式")
	statusCol := findColumn(header, "当前状态", "交易状态")
	idCol := findColumn(header, "交易单号", "交易订单号")

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

		date, err := parseTimeIn(dateStr, cst, wechatTimeLayouts...)
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
			account = wechatDefaultAccount
		}

		res.Transactions = append(res.Transactions, api.Transaction{
			Date:       date,
			Amount:     amount,
			Currency:   api.PlatformWeChat.HomeCurrency(),
			Payee:      cell(row, payeeCol),
			Memo:       cell(row, memoCol),
			AccountRef: account,
			Owner:      res.Owner,
			Status:     cell(row, statusCol),
			Platform:   api.PlatformWeChat,
			SourceID:   cell(row, idCol),
		})
	}

	if err := checkBadFraction(res, tbl.Source, maxBad); err != nil {
		return nil, err
	}
	return res, nil
}
