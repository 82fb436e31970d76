// Package common holds service metadata and logging setup shared by all binaries.
package common

// PackageName identifies the service in logs and metrics.
const PackageName = "sharing-backend"

// Version is set at build time via -ldflags.
var Version = "dev"
