package config

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.querygate"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "querygate.toml"

// DefaultAlertThreshold is the spend fraction at which warnings begin.
const DefaultAlertThreshold = 0.80

// DefaultEmergencyThreshold is the spend fraction at which downgrades begin.
const DefaultEmergencyThreshold = 0.95

// DefaultCacheMaxSize is the default maximum number of cache entries.
const DefaultCacheMaxSize = 1000

// DefaultCacheMaxAgeDays is the default cache entry max age in days.
const DefaultCacheMaxAgeDays = 7

// DefaultSimilarityThreshold is the default similarity-match cutoff.
const DefaultSimilarityThreshold = 0.85

// DefaultHotEntries is the default size of the in-memory hot cache tier.
const DefaultHotEntries = 256

// DefaultBatchSize is the default maximum number of requests per batch.
const DefaultBatchSize = 5

// DefaultBatchTimeoutMs is the default batch dispatch timeout in milliseconds.
const DefaultBatchTimeoutMs = 100

// DefaultDedupWindowSeconds is the default dedup window in seconds.
const DefaultDedupWindowSeconds = 60

// DefaultDedupCapacity bounds the number of live dedup entries.
const DefaultDedupCapacity = 2048

// DefaultSwitcherBaseLength is the default base response length in tokens.
const DefaultSwitcherBaseLength = 150

// DefaultRetentionDays is the default in-memory ledger retention in days.
const DefaultRetentionDays = 30

// DefaultJournalBuffer is the default journal write buffer size (events).
const DefaultJournalBuffer = 256

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "querygate"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultStopPhrases are query prefixes with no semantic content, stripped
// during cache-key normalization so trivial rephrasings collide.
var DefaultStopPhrases = []string{
	"please",
	"could you",
	"can you",
	"would you",
	"tell me",
	"i want to know",
	"i would like to know",
	"kindly",
}

// DefaultSynonyms folds common variants onto one spelling before hashing.
var DefaultSynonyms = map[string]string{
	"what's":  "what is",
	"whats":   "what is",
	"who's":   "who is",
	"explain": "what is",
}

// DefaultHighKeywords signal a complex query.
var DefaultHighKeywords = []string{
	"detailed", "comprehensive", "in-depth", "philosophical", "analyze",
	"compare", "contrast", "elaborate", "thorough",
}

// DefaultLowKeywords signal a simple factual query.
var DefaultLowKeywords = []string{
	"what", "who", "when", "where", "define", "meaning",
}

// DefaultCategoryWeights maps query categories to quality weights.
var DefaultCategoryWeights = map[string]float64{
	"general":    0.3,
	"dharma":     0.7,
	"philosophy": 0.8,
	"practice":   0.5,
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: DefaultLogLevel,
			DataDir:  DefaultDataDir,
		},
		Budget: BudgetConfig{
			DailyLimit:         10.0,
			MonthlyLimit:       200.0,
			PerUserDailyLimit:  1.0,
			AlertThreshold:     DefaultAlertThreshold,
			EmergencyThreshold: DefaultEmergencyThreshold,
		},
		Tiers: map[string]TierConfig{
			"premium":    {Quality: 1.0, InputPer1K: 0.03, OutputPer1K: 0.06, Rank: 0},
			"standard":   {Quality: 0.8, InputPer1K: 0.003, OutputPer1K: 0.006, Rank: 1},
			"economy":    {Quality: 0.6, InputPer1K: 0.0005, OutputPer1K: 0.0015, Rank: 2},
			"free-local": {Quality: 0.3, InputPer1K: 0, OutputPer1K: 0, Rank: 3},
		},
		Cache: CacheConfig{
			MaxSize:             DefaultCacheMaxSize,
			MaxAgeDays:          DefaultCacheMaxAgeDays,
			SimilarityThreshold: DefaultSimilarityThreshold,
			HotEntries:          DefaultHotEntries,
			StopPhrases:         DefaultStopPhrases,
			Synonyms:            DefaultSynonyms,
		},
		Batch: BatchConfig{
			BatchSize:          DefaultBatchSize,
			BatchTimeoutMs:     DefaultBatchTimeoutMs,
			DedupWindowSeconds: DefaultDedupWindowSeconds,
			DedupCapacity:      DefaultDedupCapacity,
		},
		Switcher: SwitcherConfig{
			BaseLength:      DefaultSwitcherBaseLength,
			HighKeywords:    DefaultHighKeywords,
			LowKeywords:     DefaultLowKeywords,
			CategoryWeights: DefaultCategoryWeights,
		},
		Limits: LimitsConfig{
			Enabled:   true,
			UserTiers: map[string]string{},
		},
		Ledger: LedgerConfig{
			RetentionDays: DefaultRetentionDays,
			JournalBuffer: DefaultJournalBuffer,
		},
		Fallback: FallbackConfig{
			DeferredQueueFile: "deferred.jsonl",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
	}
}
