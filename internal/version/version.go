package version

// Version is the release tag, injected at build time:
// go build -ldflags "-X git.home.luguber.info/inful/fwbuilder/internal/version.Version=v1.0.0".
var Version = "unknown"

// BuildTime and GitCommit are injected the same way by the release build.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)
