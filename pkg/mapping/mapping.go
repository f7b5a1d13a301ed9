// Package mapping resolves platform source accounts (余额宝, 零钱, a
// bank CSV's account column) to budget account IDs. Decisions made
// interactively are persisted; each unknown source account is prompted
// for at most once per run.
package mapping

import (
	"fmt"
	"log/slog"

	"github.com/lhyang/ynab-butler/pkg/api"
	"github.com/lhyang/ynab-butler/pkg/state"
)

// Account is a budget account offered as a mapping target.
type Account struct {
	ID   string
	Name string
}

// Prompter asks the operator to pick a target account. An empty ID
// with a nil error means the operator declined.
type Prompter interface {
	SelectAccount(sourceKey string, accounts []Account) (string, error)
}

// Key builds the mapping key for a source account. Platform is part of
// the key so 零钱 on WeChat and an identically named bank account never
// collide.
func Key(platform api.Platform, accountRef string) string {
	return fmt.Sprintf("%s:%s", platform, accountRef)
}

// Resolver runs the per-account decision sequence: stored mapping,
// then one interactive prompt, then the configured default.
type Resolver struct {
	store     *state.Store
	prompter  Prompter
	accounts  []Account
	defaultID string
	// prompted memoizes this run's prompt outcomes, declined included,
	// so a source account seen in ten files asks once.
	prompted map[string]string
	logger   *slog.Logger
}

// NewResolver builds a Resolver. prompter may be nil for unattended
// runs; defaultID may be empty when no fallback account is configured.
func NewResolver(store *state.Store, prompter Prompter, accounts []Account, defaultID string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:     store,
		prompter:  prompter,
		accounts:  accounts,
		defaultID: defaultID,
		prompted:  make(map[string]string),
		logger:    logger.With("component", "mapping"),
	}
}

// Resolve returns the budget account ID for a source account. Mappings
// chosen at the prompt are persisted; the default fallback is applied
// per run but never written, so a later attended run still gets asked.
func (r *Resolver) Resolve(key string) (string, error) {
	if id, ok, err := r.store.Mapping(key); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	id, asked := r.prompted[key]
	if !asked && r.prompter != nil {
		var err error
		id, err = r.prompter.SelectAccount(key, r.accounts)
		if err != nil {
			return "", fmt.Errorf("prompting for %s: %w", key, err)
		}
		r.prompted[key] = id
		if id != "" {
			if err := r.store.SetMapping(key, id); err != nil {
				return "", err
			}
			r.logger.Info("mapping stored", "source", key, "account", id)
			return id, nil
		}
		r.logger.Info("mapping declined", "source", key)
	}
	if id != "" {
		return id, nil
	}

	if r.defaultID != "" {
		r.logger.Debug("default account applied", "source", key)
		return r.defaultID, nil
	}
	return "", fmt.Errorf("source account %s: %w", key, api.ErrNoMappingAvailable)
}
