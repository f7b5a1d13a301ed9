// Package imap fetches platform export attachments from a mailbox.
// Messages are searched per trusted sender with a tiered strategy:
// a plain FROM search first, a HEADER FROM retry for servers that
// index the raw header differently, and finally a bounded scan of
// recent envelopes for servers whose search is unreliable altogether.
package imap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/lhyang/ynab-butler/pkg/api"
	"github.com/lhyang/ynab-butler/pkg/config"
	"github.com/lhyang/ynab-butler/pkg/state"
)

var attachmentExts = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
	".zip":  true,
	".rar":  true,
	".7z":   true,
}

// searchClient is the slice of the IMAP client the sender search
// tiers need. *client.Client satisfies it.
type searchClient interface {
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
}

var _ searchClient = (*client.Client)(nil)

// Fetcher pulls importable attachments out of the configured mailbox.
type Fetcher struct {
	cfg    *config.Config
	store  *state.Store
	http   *http.Client
	logger *slog.Logger
}

func NewFetcher(cfg *config.Config, store *state.Store, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cfg:    cfg,
		store:  store,
		http:   &http.Client{Timeout: 2 * time.Minute},
		logger: logger.With("component", "imap"),
	}
}

// Fetch connects, finds messages from the trusted senders, and returns
// their importable attachments as items. Messages with a previously
// imported attachment are skipped without downloading their bodies.
func (f *Fetcher) Fetch(ctx context.Context) ([]api.Item, error) {
	addr := f.cfg.IMAPServer
	if !strings.Contains(addr, ":") {
		addr += ":993"
	}

	var c *client.Client
	err := retry.Do(
		func() error {
			var err error
			c, err = client.DialTLS(addr, nil)
			return err
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer c.Logout()

	if err := authenticate(ctx, c, f.cfg); err != nil {
		return nil, err
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	var items []api.Item
	matchedAny := false
	for _, sender := range f.cfg.Senders() {
		uids, err := f.searchSender(c, mbox, sender)
		if err != nil {
			return nil, err
		}
		if len(uids) == 0 {
			f.logger.Info("no messages found", "sender", sender)
			continue
		}
		matchedAny = true

		fresh, err := f.filterProcessed(uids)
		if err != nil {
			return nil, err
		}
		f.logger.Info("messages found", "sender", sender, "total", len(uids), "new", len(fresh))
		if len(fresh) == 0 {
			continue
		}

		senderItems, err := f.fetchMessages(ctx, c, sender, fresh)
		if err != nil {
			return nil, err
		}
		items = append(items, senderItems...)
	}

	if !matchedAny && f.cfg.DiscoverSample > 0 {
		f.discoverSenders(c, mbox)
	}
	return items, nil
}

// searchSender runs the three search tiers and returns matching UIDs.
func (f *Fetcher) searchSender(c searchClient, mbox *imap.MailboxStatus, sender string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("From", sender)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching for %s: %w", sender, err)
	}
	if len(uids) > 0 {
		return uids, nil
	}

	if f.cfg.HeaderSearchFallback {
		// The non-canonical key bypasses MIME canonicalization, turning
		// the query into HEADER FROM, which some servers index while
		// returning nothing for plain FROM.
		criteria = imap.NewSearchCriteria()
		criteria.Header["FROM"] = []string{sender}
		uids, err = c.UidSearch(criteria)
		if err != nil {
			return nil, fmt.Errorf("header-searching for %s: %w", sender, err)
		}
		if len(uids) > 0 {
			f.logger.Debug("header search fallback matched", "sender", sender, "count", len(uids))
			return uids, nil
		}
	}

	if f.cfg.FallbackScanLimit > 0 {
		uids, err = f.scanRecent(c, mbox, sender)
		if err != nil {
			return nil, err
		}
		if len(uids) > 0 {
			f.logger.Debug("recent-scan fallback matched", "sender", sender, "count", len(uids))
		}
	}
	return uids, nil
}

// scanRecent fetches the envelopes of the newest messages and matches
// the sender address client-side.
func (f *Fetcher) scanRecent(c searchClient, mbox *imap.MailboxStatus, sender string) ([]uint32, error) {
	var uids []uint32
	err := f.forRecentEnvelopes(c, mbox, uint32(f.cfg.FallbackScanLimit), func(msg *imap.Message) {
		if msg.Envelope == nil {
			return
		}
		for _, from := range msg.Envelope.From {
			if strings.EqualFold(from.Address(), sender) {
				uids = append(uids, msg.Uid)
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

// discoverSenders logs who has actually been mailing this inbox. Runs
// only when every trusted sender came back empty, as a hint that the
// sender list needs adjusting.
func (f *Fetcher) discoverSenders(c searchClient, mbox *imap.MailboxStatus) {
	counts := make(map[string]int)
	err := f.forRecentEnvelopes(c, mbox, uint32(f.cfg.DiscoverSample), func(msg *imap.Message) {
		if msg.Envelope == nil {
			return
		}
		for _, from := range msg.Envelope.From {
			counts[strings.ToLower(from.Address())]++
		}
	})
	if err != nil {
		f.logger.Warn("sender discovery failed", "error", err)
		return
	}
	for addr, n := range counts {
		f.logger.Info("recent sender", "address", addr, "messages", n)
	}
}

func (f *Fetcher) forRecentEnvelopes(c searchClient, mbox *imap.MailboxStatus, limit uint32, fn func(*imap.Message)) error {
	if mbox.Messages == 0 || limit == 0 {
		return nil
	}
	from := uint32(1)
	if mbox.Messages > limit {
		from = mbox.Messages - limit + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid}, messages)
	}()
	for msg := range messages {
		fn(msg)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("fetching recent envelopes: %w", err)
	}
	return nil
}

// filterProcessed drops UIDs that already have an imported attachment.
func (f *Fetcher) filterProcessed(uids []uint32) ([]uint32, error) {
	var fresh []uint32
	for _, uid := range uids {
		done, err := f.store.HasUIDSuccess(f.cfg.EmailAddress, uid)
		if err != nil {
			return nil, err
		}
		if !done {
			fresh = append(fresh, uid)
		}
	}
	return fresh, nil
}

// fetchMessages downloads message bodies and extracts importable
// attachments plus any allow-listed bill download links.
func (f *Fetcher) fetchMessages(ctx context.Context, c *client.Client, sender string, uids []uint32) ([]api.Item, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchUid}, messages)
	}()

	var items []api.Item
	for msg := range messages {
		msgItems, err := f.extractItems(ctx, sender, section, msg)
		if err != nil {
			// Drain the channel so the fetch goroutine can finish.
			for range messages {
			}
			<-done
			return nil, err
		}
		items = append(items, msgItems...)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetching messages from %s: %w", sender, err)
	}
	return items, nil
}

func (f *Fetcher) extractItems(ctx context.Context, sender string, section *imap.BodySectionName, msg *imap.Message) ([]api.Item, error) {
	body := msg.GetBody(section)
	if body == nil {
		f.logger.Warn("message has no body", "uid", msg.Uid)
		return nil, nil
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		f.logger.Warn("unreadable message", "uid", msg.Uid, "error", err)
		return nil, nil
	}

	received := time.Now()
	if msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
		received = msg.Envelope.Date
	}

	var items []api.Item
	linkIndex := 0
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.logger.Warn("skipping unreadable part", "uid", msg.Uid, "error", err)
			break
		}

		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			if name == "" || !attachmentExts[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			data, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("reading attachment %s of uid %d: %w", name, msg.Uid, err)
			}
			items = append(items, f.newItem(sender, msg.Uid, name, data, received))
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			if !strings.HasPrefix(ct, "text/") {
				continue
			}
			text, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			for _, link := range extractDownloadLinks(string(text)) {
				linkIndex++
				data, err := fetchDownloadLink(ctx, f.http, link)
				if err != nil {
					return nil, fmt.Errorf("uid %d: %w", msg.Uid, err)
				}
				name := fmt.Sprintf("tenpay-bill-%d.zip", linkIndex)
				items = append(items, f.newItem(sender, msg.Uid, name, data, received))
			}
		}
	}
	return items, nil
}

func (f *Fetcher) newItem(sender string, uid uint32, name string, data []byte, received time.Time) api.Item {
	return api.Item{
		Origin:   api.OriginEmail,
		Identity: state.EmailIdentity(f.cfg.EmailAddress, uid, name),
		Name:     name,
		Data:     data,
		ModTime:  received,
		Sender:   sender,
	}
}
