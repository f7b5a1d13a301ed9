package parser

import (
	"fmt"
	"strings"

	"github.com/lhyang/ynab-butler/pkg/api"
)

// classifyScanRows caps how deep into a table the classifier looks for
// platform markers. Real exports carry their metadata block well within
// this window.
const classifyScanRows = 30

// Classify determines which platform produced a table. Platform markers
// win over everything else: a file carrying an Alipay or WeChat
// signature is never classified as generic, even if its header would
// also satisfy the generic schema. Files with no marker and no
// recognizable generic header are rejected.
//
// Content signatures are anchored to each platform's metadata block,
// never to free text: a WeChat export whose payee column mentions
// 支付宝 must not be routed to the Alipay parser.
func Classify(tbl *Table) (api.Platform, error) {
	name := strings.ToLower(tbl.Source)

	wechatTitle := hasWeChatTitleBlock(tbl)
	if strings.Contains(name, "alipay") || strings.Contains(name, "支付宝") ||
		(!wechatTitle && hasAlipaySignature(tbl)) {
		return api.PlatformAlipay, nil
	}
	if strings.Contains(name, "wechat") || strings.Contains(name, "weixin") || strings.Contains(name, "微信") ||
		wechatTitle {
		return api.PlatformWeChat, nil
	}
	if hasGenericHeader(tbl) {
		return api.PlatformGeneric, nil
	}
	return "", fmt.Errorf("%s: %w", tbl.Source, api.ErrUnclassifiedFormat)
}

// hasAlipaySignature checks the tokens Alipay's export format itself
// emits: the export title line, the account metadata line, and the
// data header with Alipay's 收/付款方式 payment column (WeChat names
// its column 支付方式, so the header anchor cannot cross-match).
func hasAlipaySignature(tbl *Table) bool {
	for i, row := range tbl.Rows {
		if i >= classifyScanRows {
			return false
		}
		first := cell(row, 0)
		if strings.HasPrefix(first, "支付宝交易记录明细") || strings.Contains(first, "支付宝账户") {
			return true
		}
		if strings.HasPrefix(first, "交易时间") && findColumn(row, "收/付款方式") >= 0 {
			return true
		}
	}
	return false
}

// hasWeChatTitleBlock checks WeChat's own metadata markers.
func hasWeChatTitleBlock(tbl *Table) bool {
	for i, row := range tbl.Rows {
		if i >= classifyScanRows {
			return false
		}
		for _, c := range row {
			if strings.Contains(c, "微信支付账单明细") || strings.Contains(c, "微信昵称") {
				return true
			}
		}
	}
	return false
}

func hasGenericHeader(tbl *Table) bool {
	for i, row := range tbl.Rows {
		if i >= classifyScanRows {
			return false
		}
		cols := genericColumns(row)
		if cols.date >= 0 && cols.amount >= 0 {
			return true
		}
	}
	return false
}
