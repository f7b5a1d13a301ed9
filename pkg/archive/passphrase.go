package archive

import (
	"fmt"

	"github.com/lhyang/ynab-butler/pkg/api"
)

// PassphraseProvider supplies a passphrase for a scope (a sender address
// on the email path, an archive identity on the local path). Providers
// may consult configuration or prompt the user; returning an empty
// string means no passphrase is available.
type PassphraseProvider func(scope string) (string, error)

// PassphraseCache is the run-scoped passphrase store. It asks its
// provider at most once per scope per run and holds answers only in
// memory for the lifetime of the run. A cache is created per pipeline
// run and threaded explicitly through the email fetcher and resolver;
// it is never persisted.
type PassphraseCache struct {
	provider PassphraseProvider
	values   map[string]string
	asked    map[string]bool
}

// NewPassphraseCache creates a cache backed by the given provider.
// A nil provider means no passphrase channel exists at all.
func NewPassphraseCache(provider PassphraseProvider) *PassphraseCache {
	return &PassphraseCache{
		provider: provider,
		values:   make(map[string]string),
		asked:    make(map[string]bool),
	}
}

// Get returns the passphrase for a scope, consulting the provider on
// first use. Subsequent calls for the same scope return the cached
// answer without re-prompting, including the no-answer case.
func (c *PassphraseCache) Get(scope string) (string, error) {
	if c.asked[scope] {
		if v := c.values[scope]; v != "" {
			return v, nil
		}
		return "", api.ErrPassphraseRequired
	}
	c.asked[scope] = true

	if c.provider == nil {
		return "", api.ErrPassphraseRequired
	}
	v, err := c.provider(scope)
	if err != nil {
		return "", fmt.Errorf("passphrase provider: %w", err)
	}
	c.values[scope] = v
	if v == "" {
		return "", api.ErrPassphraseRequired
	}
	return v, nil
}
