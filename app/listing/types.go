package listing

// Layout holds the feature-card counts shown on a detail page, matched
// positionally against the Beds/Baths/Parking card order.
type Layout struct {
	Beds    string
	Baths   string
	Parking string
}

// Record is the structured content of one listing detail page. It is
// immutable once constructed, scoped to a single classification pass, and
// never persisted.
type Record struct {
	Title       string
	Address     string
	Layout      Layout
	Images      []string
	Features    string // comma-joined feature list
	Description string // newline-joined paragraph/heading blocks
}
