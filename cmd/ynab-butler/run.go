package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/lhyang/ynab-butler/pkg/api"
	"github.com/lhyang/ynab-butler/pkg/archive"
	"github.com/lhyang/ynab-butler/pkg/config"
	"github.com/lhyang/ynab-butler/pkg/logging"
	"github.com/lhyang/ynab-butler/pkg/mapping"
	"github.com/lhyang/ynab-butler/pkg/orchestrator"
	imapreader "github.com/lhyang/ynab-butler/pkg/reader/imap"
	"github.com/lhyang/ynab-butler/pkg/reader/local"
	"github.com/lhyang/ynab-butler/pkg/state"
	"github.com/lhyang/ynab-butler/pkg/writer/ynab"
)

func run(args []string) int {
	fs := flag.NewFlagSet("ynab-butler", flag.ExitOnError)
	files := fs.String("files", "", "comma-separated files or directories to import; omit to fetch from email")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := logging.Setup(logging.DefaultConfig())

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration failed", "error", err)
		return 1
	}

	paths := splitPaths(*files)
	if len(paths) > 0 {
		err = cfg.ValidateLocal()
	} else {
		err = cfg.ValidateEmail()
	}
	if err != nil {
		logger.Error("configuration failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := state.Open(cfg.StatePath, logger)
	if err != nil {
		logger.Error("state store unavailable", "path", cfg.StatePath, "error", err)
		return 1
	}
	defer store.Close()

	client := ynab.NewClient(cfg.YNABAPIKey, logger)

	interactive := !cfg.NoPrompt && isatty.IsTerminal(os.Stdin.Fd())

	budgetID, err := selectBudget(cfg, interactive, client)
	if err != nil {
		logger.Error("budget selection failed", "error", err)
		return 1
	}

	accounts, err := openAccounts(client, budgetID)
	if err != nil {
		logger.Error("listing accounts failed", "error", err)
		return 1
	}

	var prompter mapping.Prompter
	if interactive {
		prompter = mapping.TerminalPrompter{}
	}
	mapper := mapping.NewResolver(store, prompter, accounts, cfg.YNABAccountID, logger)
	resolver := archive.NewResolver(archive.NewPassphraseCache(passphraseProvider(cfg, interactive)), logger)

	var items []api.Item
	if len(paths) > 0 {
		items, err = local.NewWalker(logger).Discover(paths)
	} else {
		items, err = imapreader.NewFetcher(cfg, store, logger).Fetch(ctx)
	}
	if err != nil {
		logger.Error("discovery failed", "error", err)
		return 1
	}
	if len(items) == 0 {
		logger.Info("nothing to import")
		return 0
	}

	// Oldest exports go up first so a partial run leaves the newer
	// files for the retry.
	sort.SliceStable(items, func(i, j int) bool { return items[i].ModTime.Before(items[j].ModTime) })

	orch := orchestrator.New(resolver, store, mapper, client, budgetID, cfg.MaxBadRowFraction, logger)
	summary, err := orch.Run(ctx, items)
	if err != nil {
		logger.Error("run aborted", "reason", api.ReasonTag(err), "error", err)
		return 1
	}

	if len(paths) > 0 {
		compactRetiredFiles(paths, logger)
	}

	logger.Info("run finished",
		"items", summary.Items,
		"already_done", summary.AlreadyDone,
		"uploaded", summary.Uploaded,
		"duplicates", summary.Duplicates,
		"rows_skipped", summary.RowsSkipped,
		"failed", len(summary.Failures),
	)
	for _, f := range summary.Failures {
		logger.Warn("item not imported", "item", f.Name, "reason", f.Reason)
	}
	if !summary.Success() {
		return 1
	}
	return 0
}

func splitPaths(flagValue string) []string {
	if strings.TrimSpace(flagValue) == "" {
		return nil
	}
	var paths []string
	for _, p := range strings.Split(flagValue, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// selectBudget returns the configured budget, the only budget, or the
// operator's pick, in that order.
func selectBudget(cfg *config.Config, interactive bool, client *ynab.Client) (string, error) {
	if cfg.YNABBudgetID != "" {
		return cfg.YNABBudgetID, nil
	}
	budgets, err := client.ListBudgets()
	if err != nil {
		return "", err
	}
	switch {
	case len(budgets) == 0:
		return "", fmt.Errorf("the token has no budgets")
	case len(budgets) == 1:
		return budgets[0].ID, nil
	}
	if !interactive {
		return "", fmt.Errorf("multiple budgets available, set YNAB_BUDGET_ID")
	}

	options := make([]huh.Option[string], 0, len(budgets))
	for _, b := range budgets {
		options = append(options, huh.NewOption(b.Name, b.ID))
	}
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().Title("Which budget should transactions go to?").Options(options...).Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func openAccounts(client *ynab.Client, budgetID string) ([]mapping.Account, error) {
	all, err := client.ListAccounts(budgetID)
	if err != nil {
		return nil, err
	}
	var accounts []mapping.Account
	for _, a := range all {
		if a.Closed {
			continue
		}
		accounts = append(accounts, mapping.Account{ID: a.ID, Name: a.Name})
	}
	return accounts, nil
}

// passphraseProvider answers archive passphrase requests from the
// environment first and the terminal second. Guessing is never done;
// an empty answer fails the item.
func passphraseProvider(cfg *config.Config, interactive bool) archive.PassphraseProvider {
	return func(scope string) (string, error) {
		if pw, ok := cfg.Passphrase(scope); ok {
			return pw, nil
		}
		if !interactive {
			return "", nil
		}
		var pw string
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Passphrase for archives from %s (empty to skip)", scope)).
				EchoMode(huh.EchoModePassword).
				Value(&pw),
		))
		if err := form.Run(); err != nil {
			return "", err
		}
		return pw, nil
	}
}

// compactRetiredFiles archives the previous month's .done files in
// each directory argument. Failures here never fail the run; the
// imports already happened.
func compactRetiredFiles(paths []string, logger *slog.Logger) {
	now := time.Now()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := local.ArchivePreviousMonth(p, now); err != nil {
			logger.Warn("compacting retired files failed", "dir", p, "error", err)
		}
	}
}
