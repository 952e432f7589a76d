package control

import "strings"

// Features understood by Execute.
const (
	FeatureEngine                = "ENGINE"
	FeatureRecordMissing         = "RECORD_MISSING"
	FeatureRecordMissingFailures = "RECORD_MISSING_FAILURES"
)

// Command is a named request to change one feature. A nil Enable or
// Descriptor falls back to the persisted value.
type Command struct {
	Feature    string  `json:"feature"`
	Enable     *bool   `json:"enable,omitempty"`
	Descriptor *string `json:"descriptor,omitempty"`
}

// KnownFeature reports whether Execute acts on feature.
func KnownFeature(feature string) bool {
	switch strings.ToUpper(feature) {
	case FeatureEngine, FeatureRecordMissing, FeatureRecordMissingFailures:
		return true
	}
	return false
}

// Bool returns a pointer to v, for building Commands.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for building Commands.
func String(v string) *string { return &v }
