package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Set at build time with -ldflags:
// -X github.com/reasonrelay/reasonrelay/pkg/version.Version=vX.Y.Z
// -X github.com/reasonrelay/reasonrelay/pkg/version.Commit=<sha>
var (
	Version = "dev"
	Commit  = ""
)

// String returns "version" or "version+shortsha", falling back to the
// embedded VCS revision when ldflags were not provided.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = "dev"
	}
	commit := strings.TrimSpace(Commit)
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = strings.TrimSpace(s.Value)
					break
				}
			}
		}
	}
	if commit == "" {
		return v
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return v + "+" + commit
}

func Detailed(component string) string {
	if strings.TrimSpace(component) == "" {
		component = "reasonrelay"
	}
	return fmt.Sprintf("%s %s", component, String())
}
