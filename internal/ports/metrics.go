package ports

// Metrics receives business outcome counters.
type Metrics interface {
	AdmissionOutcome(outcome string)
	RedirectOutcome(outcome string)
	SettlementOutcome(outcome string)
	PayoutOutcome(outcome string)
	FraudFlagRaised(flagType string)
}
