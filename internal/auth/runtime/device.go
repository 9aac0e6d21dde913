package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

// deviceFingerprint hashes coarse user-agent facts (browser, major version,
// OS, form factor) into a stable per-device value stored on the session.
// Deliberately excludes IP addresses; those are too volatile.
func deviceFingerprint(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}
	ua := useragent.New(userAgentString)
	browser, version := ua.Browser()

	majorVersion := "unknown"
	if parts := strings.Split(version, "."); len(parts) > 0 && parts[0] != "" {
		majorVersion = parts[0]
	}

	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	browser = strings.ToLower(strings.TrimSpace(browser))
	if browser == "" {
		browser = "unknown"
	}
	os := strings.ToLower(strings.TrimSpace(ua.OS()))
	if os == "" {
		os = "unknown"
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", browser, majorVersion, os, platform)))
	return hex.EncodeToString(sum[:])
}
