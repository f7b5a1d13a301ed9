package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lhyang/ynab-butler/pkg/api"
	"github.com/lhyang/ynab-butler/pkg/archive"
	"github.com/lhyang/ynab-butler/pkg/state"
	"github.com/lhyang/ynab-butler/pkg/writer/ynab"
)

type stubUploader struct {
	calls  [][]ynab.Entry
	err    error
	failOn string // group fails when it contains this account id
}

func (u *stubUploader) Upload(budgetID string, entries []ynab.Entry) (*ynab.UploadResult, error) {
	u.calls = append(u.calls, entries)
	if u.err != nil {
		return nil, u.err
	}
	for _, e := range entries {
		if u.failOn != "" && e.AccountID == u.failOn {
			return nil, fmt.Errorf("server said no: %w", api.ErrUploadRejected)
		}
	}
	return &ynab.UploadResult{Created: len(entries)}, nil
}

type stubMapper struct{ err error }

func (m *stubMapper) Resolve(key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "acct-" + key, nil
}

const alipayCSV = "支付宝账户:xiaoming@example.com\n" +
	"交易时间,交易对方,收/支,金额,收/付款方式,交易状态,交易订单号\n" +
	"2025-01-02 12:30:00,兰州拉面,支出,25.50,余额宝,交易成功,T1\n" +
	"2025-01-03 09:00:00,小红,收入,100.00,余额宝,交易成功,T2\n"

func writeLocalItem(t *testing.T, dir, name, content string) api.Item {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return api.Item{Origin: api.OriginLocal, Identity: path, Name: name, Data: []byte(content)}
}

func newTestOrchestrator(t *testing.T, uploader Uploader, mapper AccountResolver) (*Orchestrator, *state.Store) {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	resolver := archive.NewResolver(archive.NewPassphraseCache(nil), nil)
	return New(resolver, store, mapper, uploader, "budget-1", 0.5, nil), store
}

func TestRunUploadsAndRetires(t *testing.T) {
	dir := t.TempDir()
	item := writeLocalItem(t, dir, "alipay_record.csv", alipayCSV)

	uploader := &stubUploader{}
	o, store := newTestOrchestrator(t, uploader, &stubMapper{})

	summary, err := o.Run(context.Background(), []api.Item{item})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Success() {
		t.Fatalf("failures: %+v", summary.Failures)
	}
	if summary.Uploaded != 2 {
		t.Errorf("uploaded = %d, want 2", summary.Uploaded)
	}
	if len(uploader.calls) != 1 {
		t.Fatalf("upload calls = %d, want 1", len(uploader.calls))
	}

	done, err := store.IsProcessed(item.Identity)
	if err != nil || !done {
		t.Errorf("item not recorded: done=%v err=%v", done, err)
	}
	if _, err := os.Stat(item.Identity + ".done"); err != nil {
		t.Errorf("file not retired: %v", err)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	item := writeLocalItem(t, dir, "alipay_record.csv", alipayCSV)

	uploader := &stubUploader{}
	o, _ := newTestOrchestrator(t, uploader, &stubMapper{})

	if _, err := o.Run(context.Background(), []api.Item{item}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Same identity again, as if the walker found the file before its
	// rename was observed.
	summary, err := o.Run(context.Background(), []api.Item{item})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.AlreadyDone != 1 || summary.Uploaded != 0 {
		t.Errorf("second run: alreadyDone=%d uploaded=%d", summary.AlreadyDone, summary.Uploaded)
	}
	if len(uploader.calls) != 1 {
		t.Errorf("upload fired again on second run")
	}
}

func TestRunFailedUploadLeavesItemUnmarked(t *testing.T) {
	dir := t.TempDir()
	item := writeLocalItem(t, dir, "alipay_record.csv", alipayCSV)

	uploader := &stubUploader{err: fmt.Errorf("boom: %w", api.ErrUploadRejected)}
	o, store := newTestOrchestrator(t, uploader, &stubMapper{})

	summary, err := o.Run(context.Background(), []api.Item{item})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Success() {
		t.Fatal("expected failure summary")
	}
	if summary.Failures[0].Reason != "upload-rejected" {
		t.Errorf("reason = %s", summary.Failures[0].Reason)
	}

	done, _ := store.IsProcessed(item.Identity)
	if done {
		t.Error("failed item must not be recorded")
	}
	if _, err := os.Stat(item.Identity); err != nil {
		t.Error("failed item must keep its original name")
	}
}

func TestRunSoftFailureDoesNotStopOtherItems(t *testing.T) {
	dir := t.TempDir()
	good := writeLocalItem(t, dir, "alipay_record.csv", alipayCSV)
	bad := writeLocalItem(t, dir, "noise.csv", "lorem,ipsum\n1,2\n")

	uploader := &stubUploader{}
	o, _ := newTestOrchestrator(t, uploader, &stubMapper{})

	summary, err := o.Run(context.Background(), []api.Item{bad, good})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Uploaded != 2 {
		t.Errorf("uploaded = %d, want 2", summary.Uploaded)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Reason != "unclassified-format" {
		t.Errorf("failures = %+v", summary.Failures)
	}
}

func TestRunNoMappingIsSoft(t *testing.T) {
	dir := t.TempDir()
	item := writeLocalItem(t, dir, "alipay_record.csv", alipayCSV)

	o, _ := newTestOrchestrator(t, &stubUploader{}, &stubMapper{err: api.ErrNoMappingAvailable})

	summary, err := o.Run(context.Background(), []api.Item{item})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Reason != "no-mapping" {
		t.Errorf("failures = %+v", summary.Failures)
	}
}

// cancelingUploader cancels the run's context during its first call,
// as if the user hit Ctrl-C mid-upload.
type cancelingUploader struct {
	calls  int
	cancel context.CancelFunc
}

func (u *cancelingUploader) Upload(budgetID string, entries []ynab.Entry) (*ynab.UploadResult, error) {
	u.calls++
	u.cancel()
	return &ynab.UploadResult{Created: len(entries)}, nil
}

func TestRunStopsUploadingAfterCancellation(t *testing.T) {
	dir := t.TempDir()
	first := writeLocalItem(t, dir, "alipay_a.csv", alipayCSV)
	otherOwner := strings.Replace(alipayCSV, "xiaoming@example.com", "xiaohong@example.com", 1)
	second := writeLocalItem(t, dir, "alipay_b.csv", otherOwner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	uploader := &cancelingUploader{cancel: cancel}
	o, store := newTestOrchestrator(t, uploader, &stubMapper{})

	_, err := o.Run(ctx, []api.Item{first, second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if uploader.calls != 1 {
		t.Errorf("uploads after cancellation = %d, want 1", uploader.calls)
	}
	// Neither item may be recorded: the second group never went up.
	for _, it := range []api.Item{first, second} {
		done, err := store.IsProcessed(it.Identity)
		if err != nil {
			t.Fatal(err)
		}
		if done {
			t.Errorf("%s must not be recorded after an aborted run", it.Name)
		}
	}
}

func TestRunAuthFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	item := writeLocalItem(t, dir, "alipay_record.csv", alipayCSV)

	uploader := &stubUploader{err: fmt.Errorf("token expired: %w", api.ErrAuth)}
	o, _ := newTestOrchestrator(t, uploader, &stubMapper{})

	_, err := o.Run(context.Background(), []api.Item{item})
	if !errors.Is(err, api.ErrAuth) {
		t.Fatalf("expected fatal ErrAuth, got %v", err)
	}
}
