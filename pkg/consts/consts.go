// Package consts holds build-time constants injected via ldflags.
package consts

// Service identity.
const (
	ServiceName = "prpatrol"
	DisplayName = "PRPatrol"
)

// Build information, overridden at link time:
//
//	go build -ldflags "-X github.com/prpatrol/prpatrol/pkg/consts.Version=v1.2.3"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
