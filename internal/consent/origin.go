package consent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"

	"signet/pkg/privacy"
)

// NewOrigin builds consent origin metadata from raw request attributes.
// The IP is anonymized and the user agent collapsed into a coarse device
// fingerprint before anything is stored.
func NewOrigin(ip, userAgentString, channel string) Origin {
	return Origin{
		IP:                privacy.AnonymizeIP(ip),
		DeviceFingerprint: deviceFingerprint(userAgentString),
		Channel:           channel,
	}
}

// deviceFingerprint hashes browser family, major version, OS and form factor.
// Coarse on purpose: enough to corroborate consent evidence, not enough to
// track a person.
func deviceFingerprint(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.New(userAgentString)
	browser, version := ua.Browser()

	majorVersion := "unknown"
	if version != "" {
		parts := strings.Split(version, ".")
		if len(parts) > 0 && parts[0] != "" {
			majorVersion = parts[0]
		}
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

	data := fmt.Sprintf("%s|%s|%s|%s", browser, majorVersion, os, platform)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
