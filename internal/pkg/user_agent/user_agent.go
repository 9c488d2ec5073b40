package user_agent

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device classes reported by Classify.
const (
	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceTV      = "TV"
	DeviceConsole = "Console"
	DeviceBot     = "Bot"
	Unknown       = "Unknown"
)

type UserAgent struct {
	UserAgent      string
	OS             string
	OSVersion      string
	Browser        string
	BrowserVersion string
	Device         string
	Mobile         bool
	Tablet         bool
	Desktop        bool
	Bot            bool
}

//go:embed rules.yml
var rulesFile []byte

// Browser entry structure
type BrowserEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// OS entry structure
type OSEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Device entry structure
type DeviceEntry struct {
	Regex  string `yaml:"regex"`
	Device string `yaml:"device"`
}

// Bot entry structure
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type ruleSet struct {
	Bots     []BotEntry     `yaml:"bots"`
	Browsers []BrowserEntry `yaml:"browsers"`
	OSs      []OSEntry      `yaml:"oss"`
	Devices  []DeviceEntry  `yaml:"devices"`
}

// Compiled regex cache
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

// Global parser instance
var (
	parser *DeviceDetectorParser
	once   sync.Once
)

type DeviceDetectorParser struct {
	rules      ruleSet
	regexCache *RegexCache
}

// NewParser builds a parser from YAML rules in the rules.yml layout.
func NewParser(data []byte) (*DeviceDetectorParser, error) {
	p := &DeviceDetectorParser{regexCache: newRegexCache()}
	if err := yaml.Unmarshal(data, &p.rules); err != nil {
		return nil, fmt.Errorf("failed to parse user agent rules: %w", err)
	}
	return p, nil
}

func getParser() *DeviceDetectorParser {
	once.Do(func() {
		var err error
		parser, err = NewParser(rulesFile)
		if err != nil {
			slog.Error("Error loading embedded user agent rules", slog.Any("error", err))
			parser = &DeviceDetectorParser{regexCache: newRegexCache()}
		}
	})
	return parser
}

// expand replaces $1, $2, ... in template with the matching groups.
func expand(template string, matches []string) string {
	if template == "" || len(matches) < 2 {
		return ""
	}
	out := template
	for i, match := range matches[1:] {
		out = strings.ReplaceAll(out, fmt.Sprintf("$%d", i+1), match)
	}
	return strings.ReplaceAll(out, "_", ".")
}

func (p *DeviceDetectorParser) match(pattern, userAgent string) []string {
	regex, err := p.regexCache.get(pattern)
	if err != nil {
		slog.Debug("Skipping invalid user agent rule", slog.String("regex", pattern), slog.Any("error", err))
		return nil
	}
	if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
		return matches
	}
	return nil
}

func (p *DeviceDetectorParser) parseBot(userAgent string) *BotEntry {
	for i := range p.rules.Bots {
		bot := &p.rules.Bots[i]
		if p.match(bot.Regex, userAgent) != nil {
			return bot
		}
	}
	return nil
}

func (p *DeviceDetectorParser) parseBrowser(userAgent string) (string, string) {
	for _, entry := range p.rules.Browsers {
		if matches := p.match(entry.Regex, userAgent); matches != nil {
			return entry.Name, expand(entry.Version, matches)
		}
	}
	return Unknown, ""
}

func (p *DeviceDetectorParser) parseOS(userAgent string) (string, string) {
	for _, entry := range p.rules.OSs {
		if matches := p.match(entry.Regex, userAgent); matches != nil {
			return entry.Name, expand(entry.Version, matches)
		}
	}
	return Unknown, ""
}

func (p *DeviceDetectorParser) parseDevice(userAgent string) string {
	for _, entry := range p.rules.Devices {
		if p.match(entry.Regex, userAgent) != nil {
			switch entry.Device {
			case "smartphone", "feature phone", "phablet":
				return DeviceMobile
			case "tablet":
				return DeviceTablet
			case "tv":
				return DeviceTV
			case "console":
				return DeviceConsole
			default:
				return DeviceDesktop
			}
		}
	}

	// Fallback device detection based on user agent patterns
	ua := strings.ToLower(userAgent)

	// Check for tablet indicators first (they often contain "mobile" too)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return DeviceTablet
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod") {
		return DeviceMobile
	}
	return DeviceDesktop
}

// Parse classifies a user agent string with this parser's rules.
func (p *DeviceDetectorParser) Parse(userAgent string) UserAgent {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return UserAgent{OS: Unknown, Browser: Unknown, Device: Unknown}
	}

	if bot := p.parseBot(userAgent); bot != nil {
		return UserAgent{
			UserAgent: userAgent,
			OS:        Unknown,
			Browser:   bot.Name,
			Device:    DeviceBot,
			Bot:       true,
		}
	}

	browser, browserVersion := p.parseBrowser(userAgent)
	os, osVersion := p.parseOS(userAgent)
	device := p.parseDevice(userAgent)

	return UserAgent{
		UserAgent:      userAgent,
		OS:             os,
		OSVersion:      osVersion,
		Browser:        browser,
		BrowserVersion: browserVersion,
		Device:         device,
		Mobile:         device == DeviceMobile,
		Tablet:         device == DeviceTablet,
		Desktop:        device == DeviceDesktop,
	}
}

func ParseUserAgent(userAgent string) UserAgent {
	return getParser().Parse(userAgent)
}

// Classify returns the device class, OS and browser names stored on a session.
func Classify(userAgent string) (device, os, browser string) {
	ua := ParseUserAgent(userAgent)
	return ua.Device, ua.OS, ua.Browser
}
