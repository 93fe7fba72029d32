package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"sessionqa/internal/services"
)

// SentinelScore is written by the analyzer when it could not produce a score.
const SentinelScore = -1.0

var scorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"final_weighted_score"\s*:\s*(-?\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)final\s+weighted\s+score\s*[:=]\s*(-?\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)overall\s+score\s*[:=]\s*(-?\d+(?:\.\d+)?)`),
}

// StructuredPath is the JSON artifact the analyzer writes next to reportPath.
func StructuredPath(reportPath string) string {
	return strings.TrimSuffix(reportPath, filepath.Ext(reportPath)) + ".json"
}

type structuredReport struct {
	Scoring struct {
		FinalWeightedScore *float64 `json:"final_weighted_score"`
	} `json:"scoring"`
}

// ExtractScore reads the score for a finished run. A run that left neither
// artifact is a process failure; an artifact without a usable score, or with
// the sentinel -1, is an output parse failure.
func ExtractScore(reportPath string) (float64, error) {
	structured, sErr := os.ReadFile(StructuredPath(reportPath))
	text, tErr := os.ReadFile(reportPath)
	if sErr != nil && tErr != nil {
		return 0, services.Wrap(services.ErrProcess, "analysis", "validate", "analyzer wrote no report", errors.Join(sErr, tErr))
	}

	if sErr == nil {
		var report structuredReport
		if err := json.Unmarshal(structured, &report); err == nil && report.Scoring.FinalWeightedScore != nil {
			return checkScore(*report.Scoring.FinalWeightedScore)
		}
	}
	for _, raw := range [][]byte{text, structured} {
		if len(raw) == 0 {
			continue
		}
		for _, pattern := range scorePatterns {
			if m := pattern.FindSubmatch(raw); m != nil {
				value, err := strconv.ParseFloat(string(m[1]), 64)
				if err != nil {
					continue
				}
				return checkScore(value)
			}
		}
	}
	return 0, services.Wrap(services.ErrOutputParse, "analysis", "validate", "report contains no score", nil)
}

func checkScore(value float64) (float64, error) {
	if value == SentinelScore {
		return 0, services.Wrap(services.ErrOutputParse, "analysis", "validate", "analyzer returned sentinel score -1", nil)
	}
	if value < 0 {
		return 0, services.Wrap(services.ErrOutputParse, "analysis", "validate", fmt.Sprintf("invalid score %v", value), nil)
	}
	return value, nil
}
