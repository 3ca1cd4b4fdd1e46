package constants

import "time"

// Operation modes
const (
	MODE_STANDALONE = "standalone" // single host, local store only
	MODE_FLEET      = "fleet"      // participates in fleet aggregation
)

// Default alert thresholds (percent unless noted)
const (
	DEFAULT_CPU_THRESHOLD    = 85.0
	DEFAULT_MEMORY_THRESHOLD = 90.0
	DEFAULT_DISK_THRESHOLD   = 95.0
	DEFAULT_GPU_TEMP_LIMIT   = 90.0 // celsius
)

// Default store configuration
const (
	DEFAULT_COLLECTION_INTERVAL   = 15 * time.Second
	DEFAULT_SEGMENT_MAX_SAMPLES   = 4096
	DEFAULT_SEGMENT_MAX_SPAN      = time.Hour
	DEFAULT_RETENTION_HORIZON     = 7 * 24 * time.Hour
	DEFAULT_COMPACTION_INTERVAL   = 5 * time.Minute
	DEFAULT_INGEST_BUFFER_SAMPLES = 512
)

// Default analysis configuration
const (
	DEFAULT_AGGREGATE_BUCKET       = time.Minute
	DEFAULT_ANOMALY_WINDOW         = 60  // samples
	DEFAULT_ANOMALY_THRESHOLD      = 3.0 // standard deviations
	DEFAULT_PREDICT_WINDOW         = 240 // samples (~1h at 15s cadence)
	DEFAULT_PREDICT_MIN_POINTS     = 3
	DEFAULT_PREDICT_CHECK_INTERVAL = 10 * time.Minute
	DEFAULT_PREDICT_HORIZON        = 24 * time.Hour // failures this close get an event
)

// Default fleet scoring configuration
const (
	DEFAULT_STALENESS_WINDOW        = 2 * time.Minute
	DEFAULT_PENALTY_THRESHOLD_WARN  = 10.0
	DEFAULT_PENALTY_THRESHOLD_CRIT  = 25.0
	DEFAULT_PENALTY_PREDICTED_FAIL  = 15.0
)

// Default access control configuration
const (
	DEFAULT_RATE_LIMIT_REQUESTS = 100
	DEFAULT_RATE_LIMIT_WINDOW   = time.Minute
	DEFAULT_SUBSCRIBER_QUEUE    = 256 // buffered updates per subscriber
)

// Fleet networking defaults
const (
	DEFAULT_LISTEN_ADDR     = ":9137"
	DEFAULT_REPORT_INTERVAL = 30 * time.Second
)

// Event log configuration
const (
	DEFAULT_EVENT_LOG_MAX_BYTES = 8 * 1024 * 1024
	DEFAULT_EVENT_RETENTION     = 30 * 24 * time.Hour
	DEFAULT_EVENT_MEMORY_LIMIT  = 1000 // most recent events kept in memory
)

// File paths
const (
	CONFIG_DIR_NAME = "/.hwpulse"
	DATA_DIR_NAME   = "/.hwpulse/data"
	EVENTS_DIR_NAME = "/.hwpulse/events"
	LOG_FILE        = "/tmp/hwpulse.log"
)
