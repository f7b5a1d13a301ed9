package parser

import (
	"testing"

	"github.com/lhyang/ynab-butler/pkg/api"
)

func wechatTable() *Table {
	return &Table{
		Source: "微信支付账单(20250101-20250131).csv",
		Rows: [][]string{
			{"微信支付账单明细"},
			{"微信昵称：[小明]"},
			{"起始时间：[2025-01-01 00:00:00] 终止时间：[2025-01-31 23:59:59]"},
			{"----------------------微信支付账单明细列表--------------------"},
			{"交易时间", "交易类型", "交易对方", "商品", "收/支", "金额(元)", "支付方式", "当前状态", "交易单号"},
			{"2025-01-10 19:22:11", "商户消费", "瑞幸咖啡", "拿铁", "支出", "¥18.00", "零钱", "支付成功", "W2001"},
			{"2025-01-11 10:00:00", "转账", "小红", "/", "收入", "￥1,200.00", "/", "已存入零钱", "W2002"},
			{"2025-01-12 08:30:00", "商户消费", "地铁", "车票", "支出", "¥0.00", "零钱", "支付成功", "W2003"},
		},
	}
}

func TestParseWeChat(t *testing.T) {
	res, err := Parse(api.PlatformWeChat, wechatTable(), DefaultMaxBadRowFraction)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if res.Owner != "小明" {
		t.Errorf("owner = %q", res.Owner)
	}
	if len(res.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(res.Transactions))
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Reason != "zero-amount" {
		t.Fatalf("skipped = %+v", res.Skipped)
	}

	if res.Transactions[0].Amount != -18000 {
		t.Errorf("¥18.00 expense = %d, want -18000", res.Transactions[0].Amount)
	}
	if res.Transactions[1].Amount != 1200000 {
		t.Errorf("￥1,200.00 income = %d, want 1200000", res.Transactions[1].Amount)
	}
	if res.Transactions[1].AccountRef != wechatDefaultAccount {
		t.Errorf("placeholder payment method should fall back to %s, got %q", wechatDefaultAccount, res.Transactions[1].AccountRef)
	}
}

func TestParseWeChatNoHeader(t *testing.T) {
	tbl := &Table{Source: "wechat.csv", Rows: [][]string{{"微信支付账单明细"}, {"nothing here"}}}
	if _, err := Parse(api.PlatformWeChat, tbl, DefaultMaxBadRowFraction); err == nil {
		t.Fatal("expected error for table without a data header")
	}
}
