package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/shipper/internal/executil"
)

type fakeRunner struct {
	name   string
	args   []string
	result *executil.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*executil.Result, error) {
	f.name = name
	f.args = args
	if f.result == nil {
		f.result = &executil.Result{}
	}
	return f.result, f.err
}

func availableScanner(runner executil.Runner, cfg ScanConfig) *TrivyScanner {
	return &TrivyScanner{config: cfg, runner: runner, trivyPath: "/usr/local/bin/trivy"}
}

const trivyJSON = `{
  "ArtifactName": "app:v1",
  "Results": [
    {"Target": "app:v1 (debian 12)", "Vulnerabilities": [
      {"VulnerabilityID": "CVE-2024-0001", "PkgName": "openssl", "Severity": "CRITICAL"},
      {"VulnerabilityID": "CVE-2024-0002", "PkgName": "zlib", "Severity": "LOW"},
      {"VulnerabilityID": "CVE-2024-0003", "PkgName": "curl", "Severity": "HIGH"}
    ]},
    {"Target": "Python", "Vulnerabilities": [
      {"VulnerabilityID": "CVE-2024-0004", "PkgName": "requests", "Severity": "MEDIUM"},
      {"VulnerabilityID": "CVE-2024-0005", "PkgName": "idna", "Severity": "UNKNOWN"}
    ]}
  ]
}`

func TestDefaultScanConfig(t *testing.T) {
	config := DefaultScanConfig()

	assert.True(t, config.Enabled)
	assert.True(t, config.IgnoreUnfixed)
	assert.Equal(t, 10*time.Minute, config.Timeout)
}

func TestTrivyScanner_IsAvailable(t *testing.T) {
	t.Run("disabled config returns false", func(t *testing.T) {
		scanner := NewTrivyScanner(ScanConfig{Enabled: false}, &fakeRunner{})
		assert.False(t, scanner.IsAvailable())
	})

	t.Run("missing binary returns false", func(t *testing.T) {
		scanner := &TrivyScanner{config: DefaultScanConfig()}
		assert.False(t, scanner.IsAvailable())
	})
}

func TestTrivyScanner_ScanUnavailable(t *testing.T) {
	scanner := &TrivyScanner{config: DefaultScanConfig()}

	_, err := scanner.Scan(context.Background(), Target{Image: "app:v1"})
	assert.ErrorIs(t, err, ErrScannerUnavailable)
}

func TestTrivyScanner_ScanImage(t *testing.T) {
	runner := &fakeRunner{result: &executil.Result{Stdout: trivyJSON}}
	scanner := availableScanner(runner, DefaultScanConfig())

	result, err := scanner.Scan(context.Background(), Target{Image: "app:v1"})
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/trivy", runner.name)
	assert.Contains(t, runner.args, "--ignore-unfixed")
	assert.Equal(t, "app:v1", runner.args[len(runner.args)-1])

	assert.Equal(t, VulnerabilityCounts{Critical: 1, High: 1, Medium: 1, Low: 1, Unknown: 1, Total: 5}, result.VulnCounts)
	assert.Len(t, result.Vulnerabilities, 5)
	assert.Empty(t, result.Errors)
}

func TestTrivyScanner_ScanLayout(t *testing.T) {
	runner := &fakeRunner{result: &executil.Result{Stdout: `{"Results": []}`}}
	scanner := availableScanner(runner, ScanConfig{Enabled: true, Timeout: time.Minute})

	_, err := scanner.Scan(context.Background(), Target{Image: "app:v1", LayoutPath: "/tmp/layout"})
	require.NoError(t, err)

	assert.NotContains(t, runner.args, "--ignore-unfixed")
	assert.Equal(t, []string{"--input", "/tmp/layout"}, runner.args[len(runner.args)-2:])
}

func TestTrivyScanner_ScanCommandError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	scanner := availableScanner(runner, DefaultScanConfig())

	_, err := scanner.Scan(context.Background(), Target{Image: "app:v1"})
	assert.Error(t, err)
}

func TestTrivyScanner_UnparseableOutput(t *testing.T) {
	runner := &fakeRunner{result: &executil.Result{Stdout: "not json"}}
	scanner := availableScanner(runner, DefaultScanConfig())

	result, err := scanner.Scan(context.Background(), Target{Image: "app:v1"})
	require.NoError(t, err)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.VulnCounts.Total)
}

func TestScanResult_TopVulnerabilities(t *testing.T) {
	result := &ScanResult{Vulnerabilities: []Vulnerability{
		{VulnerabilityID: "low", Severity: "LOW"},
		{VulnerabilityID: "crit", Severity: "CRITICAL"},
		{VulnerabilityID: "med", Severity: "medium"},
		{VulnerabilityID: "high", Severity: "HIGH"},
	}}

	top := result.TopVulnerabilities(2)
	require.Len(t, top, 2)
	assert.Equal(t, "crit", top[0].VulnerabilityID)
	assert.Equal(t, "high", top[1].VulnerabilityID)

	assert.Len(t, result.TopVulnerabilities(0), 4)
	assert.Equal(t, "low", result.Vulnerabilities[0].VulnerabilityID, "original order untouched")
}

func TestScanResult_FormatSummary(t *testing.T) {
	result := &ScanResult{
		Target:     "app:v1",
		VulnCounts: VulnerabilityCounts{Critical: 2, Total: 2},
	}

	summary := result.FormatSummary()
	assert.Contains(t, summary, "app:v1")
	assert.Contains(t, summary, "Critical: 2")
}
