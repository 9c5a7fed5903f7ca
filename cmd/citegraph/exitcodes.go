package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (bad config file, invalid thresholds, unknown provider)
	ExitDataError   = 3 // Data error (malformed input, validation failure, integrity issues)
	ExitNotFound    = 4 // Requested paper does not exist
	ExitCoolingDown = 5 // Backfill paused because every provider is rate limited
)
