package domain

import "strings"

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	FraudHighFrequency = "high_frequency"
	FraudIPSharing     = "ip_sharing"
	FraudRapidFire     = "rapid_fire"
)

// FraudFlag is a heuristic finding for one request. It is never persisted.
type FraudFlag struct {
	Type     string
	Message  string
	Severity Severity
}

func HasHighSeverity(flags []FraudFlag) bool {
	for _, f := range flags {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// HighSeverityReason joins the messages of high-severity flags with "; ".
func HighSeverityReason(flags []FraudFlag) string {
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		if f.Severity == SeverityHigh {
			parts = append(parts, f.Message)
		}
	}
	return strings.Join(parts, "; ")
}
