package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNetwork is returned when a detail page cannot be fetched after the
// configured number of attempts. Callers leave the listing unclassified.
var ErrNetwork = errors.New("listing fetch failed")

var layoutLabels = []string{"Beds", "Baths", "Parking"}

// Fetcher retrieves listing detail pages and extracts structured records.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	retries    int
	retryDelay time.Duration
}

func NewFetcher(httpClient *http.Client, userAgent string, retries int, retryDelay time.Duration) *Fetcher {
	if retries <= 0 {
		retries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// Fetch retrieves a listing detail page and extracts its record. The fetch
// is retried with a fixed delay; extraction itself is best-effort and never
// fails a listing.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Record, error) {
	doc, err := f.fetchDocument(ctx, url)
	if err != nil {
		return nil, err
	}
	return Extract(doc), nil
}

func (f *Fetcher) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	var lastErr error
	for attempt := 0; attempt < f.retries; attempt++ {
		doc, err := f.fetchOnce(ctx, url)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		if attempt == f.retries-1 {
			break
		}
		slog.Debug("Listing fetch failed, retrying",
			"url", url, "attempt", attempt+1, "delay", f.retryDelay.String(), "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.retryDelay):
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrNetwork, url, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing page: %w", err)
	}
	return doc, nil
}

// Extract pulls the documented detail-page regions out of a parsed
// document. Missing regions yield empty fields, never an error; the host
// page's markup drifts per-field.
func Extract(doc *goquery.Document) *Record {
	record := &Record{
		Title:       extractTitle(doc),
		Address:     extractAddress(doc),
		Layout:      extractLayout(doc),
		Images:      extractImages(doc),
		Features:    extractFeatures(doc),
		Description: extractDescription(doc),
	}
	return record
}

func extractTitle(doc *goquery.Document) string {
	sel := doc.Find(`[data-testid^="listing-details__listing-summary-title"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find(`[data-testid^="listing-details__summary-title"]`).Children().First()
	}
	return strings.TrimSpace(sel.Text())
}

func extractAddress(doc *goquery.Document) string {
	sel := doc.Find(`[data-testid="listing-details__listing-summary-address"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find(`[data-testid="listing-details__button-copy-wrapper"]`).Children().First()
	}
	return strings.TrimSpace(sel.Text())
}

func extractLayout(doc *goquery.Document) Layout {
	var values [3]string

	cards := doc.Find(`[data-testid="property-features-feature"]`)
	for i := range layoutLabels {
		if i >= cards.Length() {
			break
		}
		text := cards.Eq(i).Find(`[data-testid="property-features-text-container"]`).Text()
		fields := strings.Fields(text)
		if len(fields) > 0 {
			values[i] = fields[0]
		}
	}

	return Layout{Beds: values[0], Baths: values[1], Parking: values[2]}
}

func extractImages(doc *goquery.Document) []string {
	var images []string
	doc.Find(`[data-testid^="listing-details__gallery-preview"] img`).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			images = append(images, src)
		}
	})
	return images
}

func extractFeatures(doc *goquery.Document) string {
	sel := doc.Find(`[data-testid="listing-details__additional-features"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find(`[data-testid="listing-details__listing-summary-key-selling-points-list"]`).First()
	}

	var features []string
	sel.Find("li").Each(func(_ int, item *goquery.Selection) {
		features = append(features, strings.TrimSpace(item.Text()))
	})
	return strings.Join(features, ", ")
}

func extractDescription(doc *goquery.Document) string {
	var blocks []string
	doc.Find(`[data-testid="listing-details__description"]`).First().
		Find("p, h3").Each(func(_ int, block *goquery.Selection) {
		blocks = append(blocks, strings.TrimSpace(block.Text()))
	})
	return strings.Join(blocks, "\n")
}
