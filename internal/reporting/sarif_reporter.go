// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/reporting/sarif"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "pa-explorer"
	ToolInfoURI  = "https://github.com/weihaoqu/pa-bootcamp-web-sub001"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer keeps alphanumerics, underscore and dot; everything else collapses to one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFReporter exports the taint findings of traces as SARIF 2.1.0. Each trace becomes an
// artifact carrying the program text; every vulnerability class becomes one rule.
// It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the map.
	mu sync.Mutex
	// rulesByVulnType maps a vulnerability class to its rule id.
	rulesByVulnType map[string]string
}

// NewSARIFReporter creates a reporter that writes SARIF output when closed.
func NewSARIFReporter(writer io.WriteCloser, logger *zap.Logger, toolVersion string) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				// Empty, not nil: consumers expect "results": [].
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:          writer,
		logger:          logger.Named("sarif_reporter"),
		log:             log,
		rulesByVulnType: make(map[string]string),
	}
}

// Write adds the trace's program as an artifact and one result per finding.
func (r *SARIFReporter) Write(t *trace.Trace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	uri := artifactURI(t)
	run.Artifacts = append(run.Artifacts, &sarif.Artifact{
		Location: &sarif.ArtifactLocation{URI: pString(uri)},
		Contents: &sarif.ArtifactContent{Text: pString(t.Source)},
	})

	findingsCount := 0
	for _, step := range t.Steps {
		for _, f := range step.Findings {
			run.Results = append(run.Results, &sarif.Result{
				RuleID:  r.ensureRule(f),
				Message: &sarif.Message{Text: pString(f.Message)},
				Level:   mapSeverityToSARIFLevel(f.Severity),
				Locations: []*sarif.Location{{
					PhysicalLocation: &sarif.PhysicalLocation{
						ArtifactLocation: &sarif.ArtifactLocation{URI: pString(uri)},
						Region: &sarif.Region{
							StartLine: step.Line,
							Snippet:   &sarif.Message{Text: pString(step.Statement)},
						},
					},
					Message: &sarif.Message{Text: pString(fmt.Sprintf("%s reaches %s at step %d", f.Argument, f.Sink, step.Index))},
				}},
				PartialFingerprints: map[string]string{"findingHash/v1": fingerprint(t.ID, step.Index, f)},
			})
			findingsCount++
		}
	}

	if findingsCount > 0 {
		r.logger.Debug("Wrote findings to SARIF buffer",
			zap.String("trace_id", t.ID),
			zap.Int("findings_count", findingsCount))
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)))

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Debug("Successfully wrote SARIF report", zap.Duration("duration", time.Since(startTime)))
	return nil
}

// ensureRule returns the rule id of f's vulnerability class, registering it on first use.
// Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(f trace.Finding) string {
	if id, ok := r.rulesByVulnType[f.VulnType]; ok {
		return id
	}
	id := "PAEX-" + sanitizeRuleName(f.VulnType)
	r.logger.Debug("Registering new SARIF rule definition", zap.String("rule_id", id))

	markdownHelp := fmt.Sprintf("**Vulnerability:** %s\n\nAttacker controlled data reached a sink without a sanitizer for this class.", f.VulnType)
	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               id,
		Name:             pString(f.VulnType),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(f.VulnType)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString("Tainted data flows into a " + f.VulnType + " sink.")},
		Help: &sarif.MultiformatMessageString{
			Text:     pString("Pass the data through a sanitizer for " + f.VulnType + " before the sink."),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":      []string{"security", "taint"},
			"precision": "medium",
		},
	})
	r.rulesByVulnType[f.VulnType] = id
	return id
}

func sanitizeRuleName(name string) string {
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNKNOWN-VULNERABILITY"
	}
	return sanitized
}

func artifactURI(t *trace.Trace) string {
	name := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToLower(t.Name), "-"), "-")
	if name == "" {
		name = "program"
	}
	// The id suffix keeps programs that share a name apart.
	return fmt.Sprintf("%s-%s.paex", name, t.ID[:8])
}

func fingerprint(traceID string, step int, f trace.Finding) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s\x00%s", traceID, step, f.VulnType, f.Sink, f.Argument)
	return hex.EncodeToString(h.Sum(nil))
}

func mapSeverityToSARIFLevel(severity trace.Severity) sarif.Level {
	switch severity {
	case trace.SeverityHigh:
		return sarif.LevelError
	case trace.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
