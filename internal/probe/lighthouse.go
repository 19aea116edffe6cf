package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// lighthouseAudits is the fixed allow-list of audit identifiers kept from
// the full report.
var lighthouseAudits = []string{
	"is-on-https",
	"redirects-http",
	"third-party-cookies",
	"errors-in-console",
	"deprecations",
	"origin-isolation",
	"csp-xss",
	"has-hsts",
	"third-party-summary",
}

// Lighthouse runs the lighthouse CLI as a headless-browser subprocess and
// filters its JSON report down to the audit allow-list.
type Lighthouse struct {
	Binary      string
	ReportDir   string
	InContainer bool
	Timeout     time.Duration

	// runCmd is swappable for tests.
	runCmd func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLighthouse returns a runner using the given binary; container mode adds
// the chrome flags headless chrome needs inside a container.
func NewLighthouse(binary string, inContainer bool) *Lighthouse {
	if binary == "" {
		binary = "lighthouse"
	}
	l := &Lighthouse{
		Binary:      binary,
		ReportDir:   os.TempDir(),
		InContainer: inContainer,
		Timeout:     3 * time.Minute,
	}
	l.runCmd = l.execCommand
	return l
}

func (l *Lighthouse) Type() checkup.CheckType {
	return checkup.TypeLighthouse
}

func (l *Lighthouse) Run(ctx context.Context, target string) (map[string]any, error) {
	host := ExtractHost(target)
	if host == "" {
		return nil, sharedErrors.ErrEmptyTarget
	}

	reportName := fmt.Sprintf("report_%s_%s.json", host, time.Now().Format("20060102_150405"))
	reportPath := filepath.Join(l.ReportDir, reportName)
	defer os.Remove(reportPath)

	chromeFlags := "--headless --no-sandbox"
	if l.InContainer {
		chromeFlags = "--headless --no-sandbox --disable-dev-shm-usage --disable-gpu --single-process"
	}

	args := []string{
		target,
		"--output=json",
		"--output-path=" + reportPath,
		"--no-enable-error-reporting",
		"--only-categories=performance,best-practices",
		"--chrome-flags=" + chromeFlags,
	}

	runCtx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	if stderr, err := l.runCmd(runCtx, l.Binary, args...); err != nil {
		return nil, fmt.Errorf("lighthouse: %w: %s", err, string(stderr))
	}

	raw, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("lighthouse report: %w", err)
	}

	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("lighthouse report: %w", err)
	}

	return FilterLighthouseReport(report), nil
}

func (l *Lighthouse) execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, err
	}
	return nil, nil
}

// FilterLighthouseReport keeps only the allow-listed audits from a full
// lighthouse report. Everything else in the report is noise for this check.
func FilterLighthouseReport(report map[string]any) map[string]any {
	audits, _ := report["audits"].(map[string]any)
	filtered := make(map[string]any)
	for _, key := range lighthouseAudits {
		if audit, ok := audits[key]; ok {
			filtered[key] = audit
		}
	}
	return map[string]any{"audits": filtered}
}
