package domain

import "time"

// FailureRecord captures one failed attempt. A unit retried three
// times yields three records; the ledger keeps all of them.
type FailureRecord struct {
	ID         string            `json:"id"`
	Unit       Unit              `json:"unit"`
	Timestamp  time.Time         `json:"timestamp"`
	Stage      Stage             `json:"stage"`
	Error      string            `json:"error"`
	ErrorCode  string            `json:"error_code,omitempty"`
	RetryCount int               `json:"retry_count"`
	Context    map[string]string `json:"context,omitempty"`
}

// Severity ranks how urgent a failure pattern is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a sortable weight, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// PatternType names the clustering rule that produced a pattern.
type PatternType string

const (
	PatternByStage     PatternType = "by_stage"
	PatternBySignature PatternType = "by_error_signature"
	PatternTemporal    PatternType = "temporal_cluster"
)

// FailurePattern is a derived cluster of failure records. It is
// produced fresh by the analyzer and never persisted long-term.
type FailurePattern struct {
	Type           PatternType `json:"type"`
	Key            string      `json:"key"`
	Frequency      int         `json:"frequency"`
	Units          []Unit      `json:"units"`
	CommonError    string      `json:"common_error"`
	Severity       Severity    `json:"severity"`
	Recommendation string      `json:"recommendation"`
}
