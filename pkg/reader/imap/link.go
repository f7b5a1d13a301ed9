package imap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// tenpayLinkPrefix is the only download host the pipeline will follow.
// WeChat Pay bills arrive as a link in the mail body rather than an
// attachment; the allow list is fixed so a forged mail cannot point the
// importer at an arbitrary URL.
const tenpayLinkPrefix = "https://tenpay.wechatpay.cn/userroll/userbilldownload/downloadfilefromemail"

var hrefPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// allowedDownloadLink reports whether a URL may be fetched.
func allowedDownloadLink(url string) bool {
	return strings.HasPrefix(url, tenpayLinkPrefix)
}

// extractDownloadLinks scans a mail body for allowed download links,
// deduplicated in order of appearance.
func extractDownloadLinks(body string) []string {
	var links []string
	seen := make(map[string]bool)
	for _, url := range hrefPattern.FindAllString(body, -1) {
		url = strings.TrimRight(url, ".,;)")
		if allowedDownloadLink(url) && !seen[url] {
			seen[url] = true
			links = append(links, url)
		}
	}
	return links
}

// fetchDownloadLink downloads a bill archive from an allowed link.
func fetchDownloadLink(ctx context.Context, httpClient *http.Client, url string) ([]byte, error) {
	if !allowedDownloadLink(url) {
		return nil, fmt.Errorf("download link %s is not on the allow list", url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading bill: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading bill: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("downloading bill: %w", err)
	}
	return data, nil
}
