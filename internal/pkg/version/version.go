package version

import "runtime/debug"

// Set at build time:
//
//	go build -ldflags "-X golang-wifiprov/internal/pkg/version.tag=$(git describe --tags --abbrev=0)"
var (
	commit = ""
	branch = ""
	tag    = "none"
)

type gitInfo struct {
	Commit string
	Branch string
	Tag    string
	Dirty  bool
}

// GetGitInfo returns the git metadata of the running binary. Fields not
// injected through ldflags are filled from the VCS stamp of the Go toolchain.
func GetGitInfo() gitInfo {
	info := gitInfo{Commit: commit, Branch: branch, Tag: tag}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Branch == "" {
		info.Branch = "unknown"
	}
	return info
}
