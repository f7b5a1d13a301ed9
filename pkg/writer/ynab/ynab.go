// Package ynab uploads normalized transactions to a YNAB budget.
package ynab

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/brunomvsouza/ynab.go"
	ynabapi "github.com/brunomvsouza/ynab.go/api"
	"github.com/brunomvsouza/ynab.go/api/transaction"

	"github.com/lhyang/ynab-butler/pkg/api"
)

// clearedMarkers are settlement statuses that mean the money has moved.
var clearedMarkers = []string{"交易成功", "支付成功", "已存入", "cleared"}

// Budget is a selectable budget.
type Budget struct {
	ID   string
	Name string
}

// Account is a budget account transactions can be imported into.
type Account struct {
	ID     string
	Name   string
	Closed bool
}

// Entry pairs a transaction with the budget account it resolved to.
type Entry struct {
	AccountID   string
	Transaction api.Transaction
}

// UploadResult summarizes one upload call. Duplicates are transactions
// the budget had already imported; they count as success, not failure.
type UploadResult struct {
	Created    int
	Duplicates int
}

// Client wraps the budgeting API with retry and error mapping.
type Client struct {
	c      ynab.ClientServicer
	logger *slog.Logger
}

func NewClient(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		c:      ynab.NewClient(token),
		logger: logger.With("component", "ynab"),
	}
}

// ListBudgets returns the budgets the token can access.
func (c *Client) ListBudgets() ([]Budget, error) {
	var budgets []Budget
	err := c.withRetry("listing budgets", func() error {
		summaries, err := c.c.Budget().GetBudgets()
		if err != nil {
			return err
		}
		budgets = budgets[:0]
		for _, s := range summaries {
			budgets = append(budgets, Budget{ID: s.ID, Name: s.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return budgets, nil
}

// ListAccounts returns the open accounts of a budget.
func (c *Client) ListAccounts(budgetID string) ([]Account, error) {
	var accounts []Account
	err := c.withRetry("listing accounts", func() error {
		all, err := c.c.Account().GetAccounts(budgetID, nil)
		if err != nil {
			return err
		}
		accounts = accounts[:0]
		for _, a := range all.Accounts {
			accounts = append(accounts, Account{ID: a.ID, Name: a.Name, Closed: a.Closed})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Upload creates the entries in one API call. Entries that the budget
// already knows under the same import ID are reported as duplicates.
func (c *Client) Upload(budgetID string, entries []Entry) (*UploadResult, error) {
	if len(entries) == 0 {
		return &UploadResult{}, nil
	}
	payloads, err := buildPayloads(entries)
	if err != nil {
		return nil, err
	}

	var summary *transaction.OperationSummary
	err = c.withRetry("creating transactions", func() error {
		var err error
		summary, err = c.c.Transaction().CreateTransactions(budgetID, payloads)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &UploadResult{
		Duplicates: len(summary.DuplicateImportIDs),
	}
	res.Created = len(entries) - res.Duplicates
	c.logger.Info("upload acknowledged", "created", res.Created, "duplicates", res.Duplicates)
	return res, nil
}

// buildPayloads converts entries to API payloads, assigning occurrence
// counters so same-day same-amount transactions get distinct import IDs.
func buildPayloads(entries []Entry) ([]transaction.PayloadTransaction, error) {
	occurrences := make(map[string]int)
	payloads := make([]transaction.PayloadTransaction, 0, len(entries))
	for _, e := range entries {
		t := e.Transaction
		date, err := ynabapi.DateFromString(t.Date.Format("2006-01-02"))
		if err != nil {
			return nil, fmt.Errorf("transaction date %s: %w", t.Date.Format(time.RFC3339), err)
		}

		key := t.ImportIDKey()
		occurrences[key]++
		importID := fmt.Sprintf("YNAB:%d:%s:%d", t.Amount, t.Date.Format("2006-01-02"), occurrences[key])

		p := transaction.PayloadTransaction{
			AccountID: e.AccountID,
			Date:      date,
			Amount:    t.Amount,
			Cleared:   clearedStatus(t.Status),
			Approved:  true,
			ImportID:  &importID,
		}
		if t.Payee != "" {
			payee := truncate(t.Payee, 100)
			p.PayeeName = &payee
		}
		if t.Memo != "" {
			memo := truncate(t.Memo, 200)
			p.Memo = &memo
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func clearedStatus(status string) transaction.ClearingStatus {
	s := strings.ToLower(status)
	for _, marker := range clearedMarkers {
		if strings.Contains(s, marker) {
			return transaction.ClearingStatusCleared
		}
	}
	return transaction.ClearingStatusUncleared
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// withRetry retries transient failures and maps API errors onto the
// pipeline's taxonomy: bad credentials are fatal, everything else the
// server rejects is a soft per-upload failure.
func (c *Client) withRetry(op string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.RetryIf(func(err error) bool {
			var apiErr *ynabapi.Error
			// API-level rejections will not change on retry.
			return !errors.As(err, &apiErr)
		}),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}

	var apiErr *ynabapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.ID == "401" || apiErr.ID == "403" {
			return fmt.Errorf("%s: %s: %w", op, apiErr.Detail, api.ErrAuth)
		}
		return fmt.Errorf("%s: %s: %w", op, apiErr.Detail, api.ErrUploadRejected)
	}
	return fmt.Errorf("%s: %w", op, err)
}
