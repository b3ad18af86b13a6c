// Package version reports build metadata of the adplugin binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X .../pkg/version.Version=v1.2.3 -X .../pkg/version.Commit=abc123".
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = ""
)

const shortHashLen = 12

// Info is the resolved build metadata.
type Info struct {
	Version   string `json:"version"   yaml:"version"`
	Commit    string `json:"commit"    yaml:"commit"`
	Date      string `json:"date"      yaml:"date,omitempty"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform"  yaml:"platform"`
}

// Get returns the build metadata, filling an unset commit from the embedded
// VCS stamp when the binary was built from a checkout.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	for _, setting := range build.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == "<unknown>" {
				info.Commit = setting.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = setting.Value
			}
		}
	}

	if len(info.Commit) > shortHashLen && info.Commit != "<unknown>" {
		info.Commit = info.Commit[:shortHashLen]
	}

	return info
}

// String renders the one-line version banner.
func (i Info) String() string {
	return fmt.Sprintf("adplugin %s (%s) %s %s", i.Version, i.Commit, i.GoVersion, i.Platform)
}
