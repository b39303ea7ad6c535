package shared

import "time"

// HTTP Client Configuration
const (
	DefaultHTTPTimeout     = 180 * time.Second
	DefaultRequestTimeout  = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Cache Configuration
const (
	TokenCacheTTL = 1 * time.Minute
)

// Rate limit bookkeeping
const (
	RateLimitWindow = 1 * time.Minute
)
