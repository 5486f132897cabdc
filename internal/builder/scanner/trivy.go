// Package scanner runs advisory vulnerability scans on built images.
// Findings are reported, never enforced.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/shipper/internal/executil"
)

// ErrScannerUnavailable is returned when no scanner binary is installed
var ErrScannerUnavailable = errors.New("vulnerability scanner not available")

// ScanConfig holds configuration for vulnerability scanning
type ScanConfig struct {
	Enabled       bool
	IgnoreUnfixed bool
	Timeout       time.Duration
}

// DefaultScanConfig returns sensible defaults for scanning
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Enabled:       true,
		IgnoreUnfixed: true,
		Timeout:       10 * time.Minute,
	}
}

// Target is what to scan: an image in the local store or an OCI layout
type Target struct {
	Image      string
	LayoutPath string
}

func (t Target) String() string {
	if t.LayoutPath != "" {
		return t.LayoutPath
	}
	return t.Image
}

// Vulnerability represents a single vulnerability finding
type Vulnerability struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	InstalledVersion string `json:"InstalledVersion"`
	FixedVersion     string `json:"FixedVersion,omitempty"`
	Severity         string `json:"Severity"`
	Title            string `json:"Title,omitempty"`
}

// ScanResult represents the overall scan result
type ScanResult struct {
	Target          string
	ScanTime        time.Time
	ScanDuration    time.Duration
	VulnCounts      VulnerabilityCounts
	Vulnerabilities []Vulnerability
	Errors          []string
}

// VulnerabilityCounts tracks vulnerability counts by severity
type VulnerabilityCounts struct {
	Critical int
	High     int
	Medium   int
	Low      int
	Unknown  int
	Total    int
}

// trivyResult represents a single target result from Trivy
type trivyResult struct {
	Target          string          `json:"Target"`
	Vulnerabilities []Vulnerability `json:"Vulnerabilities,omitempty"`
}

// trivyOutput represents the JSON output from Trivy
type trivyOutput struct {
	ArtifactName string        `json:"ArtifactName"`
	Results      []trivyResult `json:"Results,omitempty"`
}

// Scanner scans a built image
type Scanner interface {
	Scan(ctx context.Context, target Target) (*ScanResult, error)
	IsAvailable() bool
}

// TrivyScanner implements Scanner using the Trivy CLI
type TrivyScanner struct {
	config    ScanConfig
	runner    executil.Runner
	trivyPath string
}

// NewTrivyScanner creates a new Trivy scanner. A missing binary is logged
// as a warning and leaves the scanner unavailable.
func NewTrivyScanner(config ScanConfig, runner executil.Runner) *TrivyScanner {
	scanner := &TrivyScanner{
		config: config,
		runner: runner,
	}

	if !config.Enabled {
		return scanner
	}

	trivyPath, ok := executil.LookPath("trivy")
	if !ok {
		log.Warn().Msg("Trivy not found in PATH, vulnerability scanning will be skipped")
		return scanner
	}

	scanner.trivyPath = trivyPath
	log.Debug().Str("path", trivyPath).Msg("Trivy scanner initialized")
	return scanner
}

// IsAvailable returns whether Trivy is installed and scanning is enabled
func (s *TrivyScanner) IsAvailable() bool {
	return s.config.Enabled && s.trivyPath != ""
}

// Scan performs vulnerability scanning on target
func (s *TrivyScanner) Scan(ctx context.Context, target Target) (*ScanResult, error) {
	if !s.IsAvailable() {
		return nil, ErrScannerUnavailable
	}

	startTime := time.Now()
	result := &ScanResult{
		Target:   target.String(),
		ScanTime: startTime,
	}

	log.Info().Str("target", result.Target).Msg("Starting vulnerability scan with Trivy")

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	// Trivy exits zero when vulnerabilities are found unless --exit-code is set,
	// so a non-zero exit here is an execution problem.
	res, err := s.runner.Run(ctx, s.trivyPath, s.args(target)...)
	result.ScanDuration = time.Since(startTime)
	if err != nil {
		return result, fmt.Errorf("trivy scan failed: %w", err)
	}

	var output trivyOutput
	if strings.TrimSpace(res.Stdout) != "" {
		if err := json.Unmarshal([]byte(res.Stdout), &output); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to parse Trivy output: %v", err))
			log.Warn().Err(err).Msg("Failed to parse Trivy JSON output")
		}
	}

	result.VulnCounts = countVulnerabilities(output.Results)
	for _, r := range output.Results {
		result.Vulnerabilities = append(result.Vulnerabilities, r.Vulnerabilities...)
	}

	log.Info().
		Str("target", result.Target).
		Int("critical", result.VulnCounts.Critical).
		Int("high", result.VulnCounts.High).
		Int("medium", result.VulnCounts.Medium).
		Int("low", result.VulnCounts.Low).
		Dur("duration", result.ScanDuration).
		Msg("Vulnerability scan completed")

	return result, nil
}

func (s *TrivyScanner) args(target Target) []string {
	args := []string{
		"image",
		"--format", "json",
		"--quiet",
		"--severity", "CRITICAL,HIGH,MEDIUM,LOW",
	}
	if s.config.IgnoreUnfixed {
		args = append(args, "--ignore-unfixed")
	}
	if target.LayoutPath != "" {
		return append(args, "--input", target.LayoutPath)
	}
	return append(args, target.Image)
}

// countVulnerabilities counts vulnerabilities by severity
func countVulnerabilities(results []trivyResult) VulnerabilityCounts {
	counts := VulnerabilityCounts{}

	for _, result := range results {
		for _, vuln := range result.Vulnerabilities {
			switch strings.ToUpper(vuln.Severity) {
			case "CRITICAL":
				counts.Critical++
			case "HIGH":
				counts.High++
			case "MEDIUM":
				counts.Medium++
			case "LOW":
				counts.Low++
			default:
				counts.Unknown++
			}
			counts.Total++
		}
	}

	return counts
}

var severityRank = map[string]int{
	"CRITICAL": 4,
	"HIGH":     3,
	"MEDIUM":   2,
	"LOW":      1,
	"UNKNOWN":  0,
}

// TopVulnerabilities returns up to limit findings, most severe first
func (r *ScanResult) TopVulnerabilities(limit int) []Vulnerability {
	if limit <= 0 || limit > len(r.Vulnerabilities) {
		limit = len(r.Vulnerabilities)
	}

	vulns := make([]Vulnerability, len(r.Vulnerabilities))
	copy(vulns, r.Vulnerabilities)

	sort.SliceStable(vulns, func(i, j int) bool {
		return severityRank[strings.ToUpper(vulns[i].Severity)] > severityRank[strings.ToUpper(vulns[j].Severity)]
	})

	return vulns[:limit]
}

// FormatSummary returns a human-readable summary of scan results
func (r *ScanResult) FormatSummary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Vulnerability Scan Results for %s\n", r.Target)
	fmt.Fprintf(&sb, "Duration: %v\n", r.ScanDuration.Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Critical: %d\n", r.VulnCounts.Critical)
	fmt.Fprintf(&sb, "  High:     %d\n", r.VulnCounts.High)
	fmt.Fprintf(&sb, "  Medium:   %d\n", r.VulnCounts.Medium)
	fmt.Fprintf(&sb, "  Low:      %d\n", r.VulnCounts.Low)
	fmt.Fprintf(&sb, "  Total:    %d\n", r.VulnCounts.Total)

	return sb.String()
}
