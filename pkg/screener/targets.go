package screener

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 200

var filenameReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_",
	"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// NormalizeURL prefixes https:// when the target has no http(s) scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw
}

// ValidateURL reports whether raw, once normalized, has a scheme and a host.
func ValidateURL(raw string) bool {
	u, err := url.Parse(NormalizeURL(raw))
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// ParseTargets reads one target per line. Blank lines and lines starting
// with # are skipped. Valid targets are normalized; the rest are returned
// as invalid.
func ParseTargets(text string) (valid, invalid []string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !ValidateURL(line) {
			invalid = append(invalid, line)
			continue
		}
		valid = append(valid, NormalizeURL(line))
	}
	return valid, invalid
}

// SanitizeFilename replaces characters that are not allowed in file names,
// trims dots and spaces from both ends and caps the length.
func SanitizeFilename(name string) string {
	name = filenameReplacer.Replace(name)
	name = strings.Trim(name, ". ")
	if len(name) > maxFilenameLength {
		cut := maxFilenameLength
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name
}

// Origin returns scheme://host of rawURL, dropping the port when it is the
// scheme's default.
func Origin(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	host := parsedURL.Host
	if strings.Contains(host, ":") {
		hostWithoutPort, port, _ := strings.Cut(host, ":")
		if (parsedURL.Scheme == "http" && port == "80") || (parsedURL.Scheme == "https" && port == "443") {
			host = hostWithoutPort
		}
	}

	return parsedURL.Scheme + "://" + host, nil
}

// FormatBytes renders size with a binary unit, e.g. "1.5 KB".
func FormatBytes(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f TB", value)
}
