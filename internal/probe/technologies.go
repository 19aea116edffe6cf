package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// Technologies fetches the target page, extracts its script tags,
// fingerprints the libraries they reference, and cross-references a curated
// vulnerability table.
type Technologies struct {
	Client *http.Client
}

// NewTechnologies returns a fingerprinting probe with a 30s fetch timeout.
func NewTechnologies() *Technologies {
	return &Technologies{
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *Technologies) Type() checkup.CheckType {
	return checkup.TypeTechnologies
}

func (t *Technologies) Run(ctx context.Context, target string) (map[string]any, error) {
	if target == "" {
		return nil, sharedErrors.ErrEmptyTarget
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("technologies: %w", err)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("technologies: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("technologies: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("technologies: parse page: %w", err)
	}

	base, err := url.Parse(BaseURL(target))
	if err != nil {
		return nil, fmt.Errorf("technologies: %w", err)
	}

	scripts := extractScripts(doc)
	resolved := resolveScriptURLs(scripts, base)
	technologies := fingerprintTechnologies(resolved, doc)
	findings := analyzeVulnerableScripts(resolved)

	return map[string]any{
		"scripts":         scripts,
		"technologies":    technologies,
		"retire_analysis": findings,
	}, nil
}

func extractScripts(doc *goquery.Document) []string {
	scripts := []string{}
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			scripts = append(scripts, strings.TrimSpace(src))
		}
	})
	return scripts
}

// resolveScriptURLs turns relative and protocol-relative script references
// into absolute URLs against the page's base.
func resolveScriptURLs(scripts []string, base *url.URL) []string {
	resolved := make([]string, 0, len(scripts))
	for _, src := range scripts {
		switch {
		case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
			resolved = append(resolved, src)
		case strings.HasPrefix(src, "//"):
			resolved = append(resolved, "https:"+src)
		case strings.HasPrefix(src, "data:"):
			// inline payload, nothing to fetch
		default:
			if u, err := base.Parse(src); err == nil {
				resolved = append(resolved, u.String())
			}
		}
	}
	return resolved
}

// libraryPattern fingerprints a library from a script URL.
type libraryPattern struct {
	name    string
	pattern *regexp.Regexp
}

var libraryPatterns = []libraryPattern{
	{"jQuery", regexp.MustCompile(`jquery[/-](\d+\.\d+\.?\d*)`)},
	{"AngularJS", regexp.MustCompile(`angularjs?[/@](\d+\.\d+\.?\d*)`)},
	{"Lodash", regexp.MustCompile(`lodash(?:\.js)?[@/](\d+\.\d+\.?\d*)`)},
	{"Moment.js", regexp.MustCompile(`moment\.js[/@](\d+\.\d+\.?\d*)`)},
	{"Bootstrap", regexp.MustCompile(`bootstrap[/@](\d+\.\d+\.?\d*)`)},
	{"React", regexp.MustCompile(`react[/@-](\d+\.\d+\.?\d*)`)},
	{"Vue", regexp.MustCompile(`vue[/@-](\d+\.\d+\.?\d*)`)},
}

// fingerprintTechnologies maps detected library names to versions. Generator
// meta tags contribute server-side technologies.
func fingerprintTechnologies(scripts []string, doc *goquery.Document) map[string]any {
	technologies := make(map[string]any)
	for _, script := range scripts {
		for _, lib := range libraryPatterns {
			if m := lib.pattern.FindStringSubmatch(strings.ToLower(script)); len(m) > 1 {
				technologies[lib.name] = map[string]any{"version": m[1]}
			}
		}
	}
	if doc != nil {
		doc.Find(`meta[name="generator"]`).Each(func(_ int, s *goquery.Selection) {
			if content, ok := s.Attr("content"); ok && content != "" {
				name, version := splitGenerator(content)
				technologies[name] = map[string]any{"version": version}
			}
		})
	}
	return technologies
}

func splitGenerator(content string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(content), " ", 2)
	if len(parts) == 2 {
		return parts[0], strings.TrimSpace(parts[1])
	}
	return parts[0], ""
}

// vulnerability is one entry in the curated client-side vulnerability table.
type vulnerability struct {
	below    string
	cves     []string
	severity string
	summary  string
}

var knownVulnerabilities = map[string]vulnerability{
	"jQuery": {
		below:    "3.5.0",
		cves:     []string{"CVE-2020-11022", "CVE-2020-11023"},
		severity: "high",
		summary:  "jQuery versions before 3.5.0 contain XSS vulnerabilities in htmlPrefilter",
	},
	"AngularJS": {
		below:    "1.7.9",
		cves:     []string{"CVE-2019-10768"},
		severity: "critical",
		summary:  "AngularJS versions before 1.7.9 contain a prototype pollution vulnerability",
	},
	"Lodash": {
		below:    "4.17.12",
		cves:     []string{"CVE-2019-10744"},
		severity: "critical",
		summary:  "Lodash versions before 4.17.12 contain a prototype pollution vulnerability",
	},
	"Moment.js": {
		below:    "2.29.2",
		cves:     []string{"CVE-2022-24785"},
		severity: "high",
		summary:  "Moment.js versions before 2.29.2 contain a ReDoS vulnerability",
	},
	"Bootstrap": {
		below:    "3.4.0",
		cves:     []string{"CVE-2019-8331"},
		severity: "medium",
		summary:  "Bootstrap versions before 3.4.0 contain an XSS vulnerability in tooltip/popover",
	},
}

// analyzeVulnerableScripts cross-references fingerprinted scripts with the
// vulnerability table, one entry per script.
func analyzeVulnerableScripts(scripts []string) []map[string]any {
	findings := []map[string]any{}
	for _, script := range scripts {
		scriptFindings := []map[string]any{}
		for _, lib := range libraryPatterns {
			m := lib.pattern.FindStringSubmatch(strings.ToLower(script))
			if len(m) < 2 {
				continue
			}
			vuln, ok := knownVulnerabilities[lib.name]
			if !ok || compareVersion(m[1], vuln.below) >= 0 {
				continue
			}
			scriptFindings = append(scriptFindings, map[string]any{
				"component":   lib.name,
				"version":     m[1],
				"identifiers": vuln.cves,
				"severity":    vuln.severity,
				"summary":     vuln.summary,
				"below":       vuln.below,
			})
		}
		findings = append(findings, map[string]any{script: scriptFindings})
	}
	return findings
}

// compareVersion compares dotted numeric versions: -1 if v1 < v2, 0 if
// equal, 1 if v1 > v2.
func compareVersion(v1, v2 string) int {
	parts1 := strings.Split(v1, ".")
	parts2 := strings.Split(v2, ".")
	for len(parts1) < len(parts2) {
		parts1 = append(parts1, "0")
	}
	for len(parts2) < len(parts1) {
		parts2 = append(parts2, "0")
	}
	for i := range parts1 {
		n1, _ := strconv.Atoi(parts1[i])
		n2, _ := strconv.Atoi(parts2[i])
		if n1 < n2 {
			return -1
		}
		if n1 > n2 {
			return 1
		}
	}
	return 0
}
