package version

import (
	"runtime/debug"
)

// set by -ldflags "-X github.com/octohelm/imgkit/internal/version.version=..."
var version = ""

func Version() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}
