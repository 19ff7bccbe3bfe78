package instrumentation

import "strings"

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// Always use these helpers when recording metrics with user supplied values.

// ExtractUserDomain extracts the domain part from an email address.
//
// Example:
//
//	ExtractUserDomain("jane@vu.nl")  // "vu.nl"
//	ExtractUserDomain("invalid")     // "unknown"
//	ExtractUserDomain("")            // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}

	return "unknown"
}

// Known assistant features. Anything else is reported as FeatureOther.
const (
	FeatureGeneral   = "general"
	FeatureSummarize = "summarize"
	FeatureQuiz      = "quiz"
	FeatureExplain   = "explain"
	FeatureSuggest   = "suggest"
	FeatureCustom    = "custom"
	FeatureOther     = "other"
)

var knownFeatures = map[string]bool{
	FeatureGeneral:   true,
	FeatureSummarize: true,
	FeatureQuiz:      true,
	FeatureExplain:   true,
	FeatureSuggest:   true,
	FeatureCustom:    true,
}

// NormalizeFeature maps a client supplied feature name onto the fixed label set.
// The feature field comes straight from request bodies, so unknown values
// collapse into "other".
func NormalizeFeature(feature string) string {
	f := strings.ToLower(strings.TrimSpace(feature))
	if f == "" {
		return FeatureGeneral
	}
	if knownFeatures[f] {
		return f
	}
	return FeatureOther
}
