package app

import (
	"fmt"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
)

const dateLayout = "2006-01-02"

func BuildVersion() string {
	if version := strings.TrimSpace(Version); version != "" {
		return version
	}

	return "dev"
}

// BuildDateYMD normalizes BuildDate to YYYY-MM-DD when it can be parsed.
func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format(dateLayout)
	}
	if len(raw) >= len(dateLayout) {
		if _, err := time.Parse(dateLayout, raw[:len(dateLayout)]); err == nil {
			return raw[:len(dateLayout)]
		}
	}

	return raw
}

// Banner is the one-line identification logged at startup.
func Banner() string {
	if date := BuildDateYMD(); date != "" {
		return fmt.Sprintf("%s %s (%s)", Name, BuildVersion(), date)
	}

	return fmt.Sprintf("%s %s", Name, BuildVersion())
}
