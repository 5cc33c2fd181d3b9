package api

import "github.com/MJE43/race-pf-replay-go/internal/race"

// Set at build time with -ldflags "-X github.com/MJE43/race-pf-replay-go/internal/api.EngineVersion=..."
var (
	EngineVersion = "dev"
	GitCommit     = "unknown"
	BuildTime     = "unknown"
)

// GetVersionInfo reports the build and the simulator generations it carries.
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		Strategies:    race.IDs(),
	}
}
