package common

import "fmt"

// Must be manually updated before a release.
var version = Version{
	Major:      0,
	Minor:      3,
	Patch:      0,
	Prerelease: "+pre",
}

// Set via -ldflags, see the Makefile.
var (
	COMMIT    = ""
	BUILDDATE = ""
)

func GetAppVersion() Version {
	return version
}

type Version struct {
	Major      uint32 `json:"major"`
	Minor      uint32 `json:"minor"`
	Patch      uint32 `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
}

// IsCompatible reports whether a peer running verRcv speaks the same
// protocol. A zero version is always accepted.
func (v Version) IsCompatible(verRcv Version) bool {
	if verRcv == (Version{}) || v == (Version{}) {
		return true
	}
	return v.Major == verRcv.Major && v.Minor == verRcv.Minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major, v.Minor, v.Patch, v.Prerelease)
}
