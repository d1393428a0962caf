// Package version provides the cache library's version string, surfaced
// in the "cache opened" log line and the benchmark CLI's -version flag.
package version

// Version is the current module version.
// Override at build time: go build -ldflags "-X github.com/flashdb/pcache/internal/version.Version=1.0.0"
var Version = "1.0.0"

// BuildTime is the build timestamp.
// Override at build time: go build -ldflags "-X github.com/flashdb/pcache/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var BuildTime = "unknown"
