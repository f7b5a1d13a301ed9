package parser

import (
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestLoadCSVDetectsGBK(t *testing.T) {
	utf8Text := "交易时间,金额\n2025-01-01 10:00:00,10.00\n"
	gbkBytes, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte(utf8Text))
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}

	tbl, err := Load("bill.csv", gbkBytes)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(tbl.Rows))
	}
	if tbl.Rows[0][0] != "交易时间" {
		t.Errorf("header cell = %q", tbl.Rows[0][0])
	}
}

func TestLoadCSVRaggedRows(t *testing.T) {
	data := []byte("a,b,c\n1,2\nx,y,z,extra\n")
	tbl, err := Load("ragged.csv", data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(tbl.Rows))
	}
}
