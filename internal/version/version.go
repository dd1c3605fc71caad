// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

// Info contains version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
}

// Get returns the current version info.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
	}
}

// String returns the one-line form printed by `harvest version`.
func (i Info) String() string {
	return fmt.Sprintf("harvest %s (commit %s, built %s, %s)", i.Version, i.Commit, i.Date, i.GoVersion)
}

// UserAgent is sent on outbound API calls (LLM providers, 2captcha).
func UserAgent() string {
	return "refyne-harvest/" + Version
}
