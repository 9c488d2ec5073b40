package analytics

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const flagImageURL = "https://flagsapi.com/%s/flat/64.png"

// titleCase builds a fresh Caser per call; Casers are not safe for concurrent use.
func titleCase(s string) string {
	return cases.Title(language.AmericanEnglish).String(s)
}

// geoImage returns the flag for a known country code, otherwise a generic icon.
func geoImage(code, fallback string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return fallback
	}
	return fmt.Sprintf(flagImageURL, strings.ToUpper(code))
}

// iconImage maps a label to its static icon path, e.g. "Chrome" -> "/chrome.png".
func iconImage(name string) string {
	return "/" + strings.ToLower(name) + ".png"
}

// displayName title-cases all-lowercase names and keeps vendor casing such as
// "DuckDuckGo" or "TV".
func displayName(name string) string {
	if name == strings.ToLower(name) {
		return titleCase(name)
	}
	return name
}

func deviceLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return displayName(name)
}

func osLabel(name string) string {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "":
		return ""
	case "ios", "iphone os":
		return "iOS"
	case "ipados":
		return "iPadOS"
	case "macos", "mac os", "mac os x", "mac", "darwin":
		return "macOS"
	case "chrome os", "chromeos":
		return "ChromeOS"
	default:
		return displayName(name)
	}
}

func browserLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return displayName(name)
}
