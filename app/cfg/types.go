package cfg

type Cfg struct {
	// Preference store
	DBPath string

	// Application configuration
	RulesDir     string
	Port         string
	APIAccessKey string

	// Host site
	SiteBaseURL string

	// Classification tunables
	DebounceMs        int
	FetchRetries      int
	FetchRetryDelayMs int
	StoreRetries      int
	StoreRetryDelayMs int
	StrataCeiling     int
	StrictStrataBelow int
	IncludeStudio     bool

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
