// Package orchestrator drives items through the pipeline: container
// resolution, platform detection, parsing, account mapping, upload,
// and the post-upload bookkeeping that makes reruns idempotent.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lhyang/ynab-butler/pkg/api"
	"github.com/lhyang/ynab-butler/pkg/archive"
	"github.com/lhyang/ynab-butler/pkg/mapping"
	"github.com/lhyang/ynab-butler/pkg/parser"
	"github.com/lhyang/ynab-butler/pkg/reader/local"
	"github.com/lhyang/ynab-butler/pkg/state"
	"github.com/lhyang/ynab-butler/pkg/writer/ynab"
)

// Uploader is the slice of the budget client the orchestrator needs.
type Uploader interface {
	Upload(budgetID string, entries []ynab.Entry) (*ynab.UploadResult, error)
}

// AccountResolver maps a source account key to a budget account ID.
type AccountResolver interface {
	Resolve(key string) (string, error)
}

// Failure records one item that could not be imported and why. Reason
// is a stable tag, not prose.
type Failure struct {
	Identity string
	Name     string
	Reason   string
}

// Summary is the outcome of one run.
type Summary struct {
	Items       int
	AlreadyDone int
	Uploaded    int
	Duplicates  int
	RowsSkipped int
	Failures    []Failure
}

// Success reports whether every discovered item was handled.
func (s *Summary) Success() bool {
	return len(s.Failures) == 0
}

// Orchestrator owns one run over a batch of items.
type Orchestrator struct {
	resolver *archive.Resolver
	store    *state.Store
	mapper   AccountResolver
	uploader Uploader
	budgetID string
	maxBad   float64
	logger   *slog.Logger
}

func New(resolver *archive.Resolver, store *state.Store, mapper AccountResolver, uploader Uploader, budgetID string, maxBad float64, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		resolver: resolver,
		store:    store,
		mapper:   mapper,
		uploader: uploader,
		budgetID: budgetID,
		maxBad:   maxBad,
		logger:   logger.With("component", "orchestrator"),
	}
}

// processedItem is an item that parsed and mapped cleanly and is
// waiting on its upload groups.
type processedItem struct {
	item   api.Item
	groups map[string]bool
}

// fatal errors abort the whole run; everything else fails one item.
func fatal(err error) bool {
	return errors.Is(err, api.ErrAuth) || errors.Is(err, api.ErrStateCorrupt)
}

// Run pushes items through the pipeline. Uploads are committed per
// group: the group's transactions go up in one call, and only after
// the server acknowledges are the contributing items recorded and
// their files retired. A failed group leaves its items untouched for
// the next run.
func (o *Orchestrator) Run(ctx context.Context, items []api.Item) (*Summary, error) {
	summary := &Summary{Items: len(items)}
	groups := make(map[string][]ynab.Entry)
	var pending []*processedItem

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		done, err := o.store.IsProcessed(item.Identity)
		if err != nil {
			return summary, err
		}
		if done {
			o.logger.Debug("already imported", "item", item.Name)
			summary.AlreadyDone++
			continue
		}

		entries, rowsSkipped, err := o.processItem(item)
		if err != nil {
			if fatal(err) {
				return summary, err
			}
			o.logger.Warn("item failed", "item", item.Name, "reason", api.ReasonTag(err), "error", err)
			summary.Failures = append(summary.Failures, Failure{Identity: item.Identity, Name: item.Name, Reason: api.ReasonTag(err)})
			continue
		}
		summary.RowsSkipped += rowsSkipped

		p := &processedItem{item: item, groups: make(map[string]bool)}
		for key, entry := range entries {
			groups[key] = append(groups[key], entry...)
			p.groups[key] = true
		}
		pending = append(pending, p)
	}

	failedGroups, err := o.uploadGroups(ctx, groups, summary)
	if err != nil {
		return summary, err
	}

	for _, p := range pending {
		blocked := false
		for key := range p.groups {
			if failedGroups[key] {
				blocked = true
				break
			}
		}
		if blocked {
			summary.Failures = append(summary.Failures, Failure{Identity: p.item.Identity, Name: p.item.Name, Reason: api.ReasonTag(api.ErrUploadRejected)})
			continue
		}
		if err := o.commitItem(p.item); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// processItem resolves, parses, and maps one item. The returned map is
// keyed by upload group.
func (o *Orchestrator) processItem(item api.Item) (map[string][]ynab.Entry, int, error) {
	payloads, err := o.resolver.Resolve(item)
	if err != nil {
		return nil, 0, err
	}

	entries := make(map[string][]ynab.Entry)
	rowsSkipped := 0
	for _, payload := range payloads {
		tbl, err := parser.Load(payload.Name, payload.Data)
		if err != nil {
			return nil, 0, err
		}
		platform, err := parser.Classify(tbl)
		if err != nil {
			return nil, 0, err
		}
		res, err := parser.Parse(platform, tbl, o.maxBad)
		if err != nil {
			return nil, 0, err
		}
		rowsSkipped += len(res.Skipped)
		for _, s := range res.Skipped {
			o.logger.Debug("row skipped", "file", payload.Name, "line", s.Line, "reason", s.Reason)
		}

		key := groupKey(item, res)
		for _, t := range res.Transactions {
			accountID, err := o.mapper.Resolve(mapping.Key(t.Platform, t.AccountRef))
			if err != nil {
				return nil, 0, err
			}
			entries[key] = append(entries[key], ynab.Entry{AccountID: accountID, Transaction: t})
		}
	}
	return entries, rowsSkipped, nil
}

// groupKey labels an upload group: the export owner when the file
// names one, the mail sender otherwise, the origin as a last resort.
func groupKey(item api.Item, res *parser.Result) string {
	if res.Owner != "" {
		return res.Owner
	}
	if item.Sender != "" {
		return item.Sender
	}
	return item.Origin.String()
}

// uploadGroups sends each group in one call and reports which groups
// failed. Soft upload failures fail their group only.
func (o *Orchestrator) uploadGroups(ctx context.Context, groups map[string][]ynab.Entry, summary *Summary) (map[string]bool, error) {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failed := make(map[string]bool)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries := groups[key]
		if len(entries) == 0 {
			continue
		}
		res, err := o.uploader.Upload(o.budgetID, entries)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			o.logger.Warn("group upload failed", "group", key, "transactions", len(entries), "error", err)
			failed[key] = true
			continue
		}
		o.logger.Info("group uploaded", "group", key, "created", res.Created, "duplicates", res.Duplicates)
		summary.Uploaded += res.Created
		summary.Duplicates += res.Duplicates
	}
	return failed, nil
}

// commitItem records the identity and retires the local file. Runs
// only after every group the item contributed to was acknowledged.
func (o *Orchestrator) commitItem(item api.Item) error {
	if err := o.store.Record(item.Identity); err != nil {
		return err
	}
	if item.Origin == api.OriginLocal {
		target, err := local.MarkDone(item.Identity)
		if err != nil {
			return fmt.Errorf("retiring %s: %w", item.Name, err)
		}
		o.logger.Debug("file retired", "from", item.Name, "to", target)
	}
	return nil
}
