// Package analyzer clusters failure records into patterns and turns
// them into an actionable recovery plan.
package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

// Clustering floors. A stage needs 2 records to be a pattern, a
// signature needs 3, and a unit needs 3 records on one day to count
// as a temporal hotspot.
const (
	minStageCluster     = 2
	minSignatureCluster = 3
	minTemporalRecords  = 2
)

// Analyzer clusters a set of failure records.
type Analyzer struct{}

// New creates an analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze clusters records three ways and returns all patterns found,
// most severe first, ties broken by frequency.
func (a *Analyzer) Analyze(records []domain.FailureRecord) []domain.FailurePattern {
	var patterns []domain.FailurePattern
	patterns = append(patterns, a.byStage(records)...)
	patterns = append(patterns, a.bySignature(records)...)
	patterns = append(patterns, a.temporal(records)...)

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Severity != patterns[j].Severity {
			return patterns[i].Severity.Rank() > patterns[j].Severity.Rank()
		}
		return patterns[i].Frequency > patterns[j].Frequency
	})
	return patterns
}

func (a *Analyzer) byStage(records []domain.FailureRecord) []domain.FailurePattern {
	groups := make(map[domain.Stage][]domain.FailureRecord)
	for _, r := range records {
		groups[r.Stage] = append(groups[r.Stage], r)
	}

	var patterns []domain.FailurePattern
	for _, stage := range domain.Stages() {
		recs := groups[stage]
		if len(recs) < minStageCluster {
			continue
		}
		units := distinctUnits(recs)
		patterns = append(patterns, domain.FailurePattern{
			Type:           domain.PatternByStage,
			Key:            string(stage),
			Frequency:      len(recs),
			Units:          units,
			CommonError:    mostCommonError(recs),
			Severity:       stageSeverity(stage, len(recs), len(units)),
			Recommendation: stageRecommendation(stage),
		})
	}
	return patterns
}

// stageSeverity grades a stage cluster: early-pipeline stages failing
// in bulk block everything downstream and rate critical sooner.
func stageSeverity(stage domain.Stage, freq, unitCount int) domain.Severity {
	switch {
	case (stage == domain.StageDownload || stage == domain.StageExtract) && freq > 20:
		return domain.SeverityCritical
	case stage == domain.StagePublish && freq > 10:
		return domain.SeverityHigh
	case unitCount > 10:
		return domain.SeverityHigh
	case freq > 5:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func stageRecommendation(stage domain.Stage) string {
	switch stage {
	case domain.StageDownload:
		return "check source availability and network path, then re-run failed units"
	case domain.StageExtract:
		return "verify 7z is installed and archives are intact, re-download suspects"
	case domain.StageTransform:
		return "inspect extracted payloads for schema drift and review the validation band"
	case domain.StagePublish:
		return "check warehouse connectivity, credentials and quota before retrying"
	default:
		return "inspect individual failure records for this stage"
	}
}

func (a *Analyzer) bySignature(records []domain.FailureRecord) []domain.FailurePattern {
	groups := make(map[string][]domain.FailureRecord)
	for _, r := range records {
		groups[Signature(r.Error)] = append(groups[Signature(r.Error)], r)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var patterns []domain.FailurePattern
	for _, key := range keys {
		recs := groups[key]
		if len(recs) < minSignatureCluster {
			continue
		}
		severity := domain.SeverityMedium
		if len(recs) > 10 {
			severity = domain.SeverityHigh
		}
		patterns = append(patterns, domain.FailurePattern{
			Type:           domain.PatternBySignature,
			Key:            key,
			Frequency:      len(recs),
			Units:          distinctUnits(recs),
			CommonError:    mostCommonError(recs),
			Severity:       severity,
			Recommendation: signatureRecommendation(key),
		})
	}
	return patterns
}

func signatureRecommendation(signature string) string {
	switch signature {
	case "connection_error":
		return "transient network trouble, retry with current backoff settings"
	case "not_found":
		return "source has no archive for these units, exclude them from retries"
	case "permission_error", "auth":
		return "refresh credentials before any retry, failures will repeat until then"
	case "out_of_memory":
		return "lower max_workers or process these units on a larger host"
	case "corrupt_archive":
		return "delete the cached archives so the next run re-downloads them"
	case "sink_quota":
		return "wait for the quota window to reset, then retry with fewer workers"
	case "empty_output":
		return "inspect the extracted payloads, the source likely changed format"
	default:
		return "inspect the underlying records grouped under this signature"
	}
}

// temporal flags units that failed repeatedly, which usually means a
// bad day of source data rather than a transient glitch.
func (a *Analyzer) temporal(records []domain.FailureRecord) []domain.FailurePattern {
	counts := make(map[domain.Unit]int)
	for _, r := range records {
		counts[r.Unit]++
	}

	var hot []domain.Unit
	freq := 0
	for unit, n := range counts {
		if n > minTemporalRecords {
			hot = append(hot, unit)
			freq += n
		}
	}
	if len(hot) == 0 {
		return nil
	}
	sort.Slice(hot, func(i, j int) bool { return hot[i] < hot[j] })

	severity := domain.SeverityMedium
	if len(hot) > 5 {
		severity = domain.SeverityHigh
	}
	return []domain.FailurePattern{{
		Type:           domain.PatternTemporal,
		Key:            "repeat_offender_units",
		Frequency:      freq,
		Units:          hot,
		CommonError:    fmt.Sprintf("%d units failed %d or more times each", len(hot), minTemporalRecords+1),
		Severity:       severity,
		Recommendation: "inspect these dates by hand before retrying, the source data itself may be bad",
	}}
}

func distinctUnits(records []domain.FailureRecord) []domain.Unit {
	seen := make(map[domain.Unit]struct{})
	var units []domain.Unit
	for _, r := range records {
		if _, ok := seen[r.Unit]; ok {
			continue
		}
		seen[r.Unit] = struct{}{}
		units = append(units, r.Unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units
}

// mostCommonError returns the message seen most often in a cluster,
// truncated so reports stay readable.
func mostCommonError(records []domain.FailureRecord) string {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Error]++
	}
	best, bestN := "", 0
	for msg, n := range counts {
		if n > bestN || (n == bestN && msg < best) {
			best, bestN = msg, n
		}
	}
	if len(best) > 200 {
		best = strings.TrimSpace(best[:200]) + "..."
	}
	return best
}
