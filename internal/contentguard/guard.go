package contentguard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Config controls the guard.
type Config struct {
	Enabled       bool   `json:"enabled" koanf:"enabled"`
	AllowlistPath string `json:"allowlist_path" koanf:"allowlist_path"`
}

// DefaultConfig enables scanning with no allowlist file.
func DefaultConfig() *Config {
	return &Config{Enabled: true}
}

// Finding is one detected credential. Match is never persisted.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// Guard wraps a Gitleaks detector built once at construction.
type Guard struct {
	enabled  bool
	mu       sync.Mutex // detect.Detector keeps per-scan state
	detector *detect.Detector
}

// New builds a Guard. A nil config uses DefaultConfig.
func New(cfg *Config) (*Guard, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &Guard{}, nil
	}

	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorInit, err)
	}
	applyAllowlist(&detector.Config, allowlist)

	return &Guard{enabled: true, detector: detector}, nil
}

// Enabled reports whether scanning is active.
func (g *Guard) Enabled() bool {
	return g != nil && g.enabled
}

// Scan returns every credential found in content.
func (g *Guard) Scan(content string) []Finding {
	if !g.Enabled() || content == "" {
		return nil
	}
	g.mu.Lock()
	found := g.detector.DetectString(content)
	g.mu.Unlock()

	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return out
}

// Clean reports whether content carries no credentials, and the rule ids
// that matched otherwise.
func (g *Guard) Clean(content string) (bool, []string) {
	findings := g.Scan(content)
	if len(findings) == 0 {
		return true, nil
	}
	seen := make(map[string]struct{})
	rules := make([]string, 0, len(findings))
	for _, f := range findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		rules = append(rules, f.RuleID)
	}
	sort.Strings(rules)
	return false, rules
}

// Redact replaces every detected credential with a [REDACTED:rule] marker.
// It satisfies compliancelog.Redactor.
func (g *Guard) Redact(content string) string {
	findings := g.Scan(content)
	if len(findings) == 0 {
		return content
	}
	// Secret values are replaced directly rather than by column because
	// Gitleaks columns are not stable across multi-byte input.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Match) > len(findings[j].Match)
	})
	for _, f := range findings {
		if f.Match == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if allowlist == nil || (len(allowlist.Regexes) == 0 && len(allowlist.StopWords) == 0) {
		return
	}
	global := &gitleaksConfig.Allowlist{
		Description: "outreachd template allowlist",
	}
	for _, pattern := range allowlist.Regexes {
		// Validated in LoadAllowlist.
		re := regexp.MustCompile(pattern)
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
