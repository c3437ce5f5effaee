// Package version exposes build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/version.Version=1.0.0 ..."
package version

import (
	"fmt"
	"runtime"
)

// Product is the name reported in User-Agent headers and startup logs.
const Product = "soundlab-api"

var (
	Version = "0.0.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
	Dirty   = "false"
)

// Info holds build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build metadata of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Dirty:     Dirty == "true",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s) built %s", Product, i.Short(), i.Commit, i.Date)
}

// Short is the version with a -dirty suffix for uncommitted builds.
func (i Info) Short() string {
	if i.Dirty {
		return i.Version + "-dirty"
	}
	return i.Version
}

// UserAgent identifies this service to compute and payment providers.
func UserAgent() string {
	return Product + "/" + Get().Short()
}
