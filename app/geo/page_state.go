package geo

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// pageState mirrors the fragment of the host page's embedded JSON payload
// that carries the listing-id -> {url, address} mapping.
type pageState struct {
	Props struct {
		PageProps struct {
			ComponentProps struct {
				ListingsMap map[string]struct {
					ListingModel struct {
						URL     string `json:"url"`
						Address struct {
							Lat float64 `json:"lat"`
							Lng float64 `json:"lng"`
						} `json:"address"`
					} `json:"listingModel"`
				} `json:"listingsMap"`
			} `json:"componentProps"`
		} `json:"pageProps"`
	} `json:"props"`
}

// BuildIndex parses the embedded page-state payload into a coordinate
// index. Entries are ordered by listing id so repeated rebuilds over the
// same page data produce the same nearest-match tie-breaks.
func BuildIndex(pageStateJSON []byte, siteBaseURL string) (Index, error) {
	if len(pageStateJSON) == 0 {
		return nil, fmt.Errorf("empty page-state payload")
	}

	var state pageState
	if err := json.Unmarshal(pageStateJSON, &state); err != nil {
		return nil, fmt.Errorf("failed to parse page-state payload: %w", err)
	}

	listings := state.Props.PageProps.ComponentProps.ListingsMap

	ids := make([]string, 0, len(listings))
	for id := range listings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index := make(Index, 0, len(ids))
	for _, id := range ids {
		model := listings[id].ListingModel
		if model.URL == "" {
			continue
		}
		index = append(index, Coordinate{
			URL: strings.TrimRight(siteBaseURL, "/") + model.URL,
			Lat: model.Address.Lat,
			Lng: model.Address.Lng,
		})
	}

	return index, nil
}
