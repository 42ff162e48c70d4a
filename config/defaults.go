package config

import "time"

// Default runtime limits, storage settings and calendar anchors. They apply
// when the YAML file and environment leave a value unset, and are referenced
// by internal/runtime and internal/ingest.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenWorkbooks      = 4

	// Payload and row limits
	DefaultMaxUploadBytes  = 32 << 20 // 32MB per request
	DefaultMaxSheetRows    = 200_000
	DefaultPreviewRowLimit = 25
	DefaultPageSize        = 100
	DefaultMaxPageSize     = 1000
)

const (
	// Timeouts
	DefaultOperationTimeout      = 60 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultMergeAcquireTimeout   = 30 * time.Second
	DefaultShutdownTimeout       = 10 * time.Second
)

const (
	// Storage
	DefaultStorageBackend = "fs"
	DefaultStorageDir     = "./data"
	DefaultCacheTTL       = 10 * time.Minute

	// Eventual-consistency retry for snapshot reads
	DefaultRetryMaxRetries = 5
	DefaultRetryBaseDelay  = 200 * time.Millisecond
)

const (
	// Calendar: campaign start and the Monday of "Semana 1".
	DefaultCampaignStart = "2025-08-01"
	DefaultWeekAnchor    = "2025-08-11"
	DefaultDatePolicy    = "day_first"

	DefaultAddr  = ":8080"
	DefaultModel = "gpt-4o"
)
