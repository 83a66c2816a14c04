package config

// Linker-injected build metadata, for example:
//
//	go build -ldflags "-X notifyrelay/internal/config.version=1.2.3 \
//	    -X notifyrelay/internal/config.commit=$(git rev-parse --short HEAD)" ./cmd/relay
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build for startup logs.
func (b BuildInfo) String() string {
	return b.Version + " (" + b.Commit + ", " + b.BuildTime + ")"
}
