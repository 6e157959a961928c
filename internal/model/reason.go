package model

// Reason is the single categorical exclusion reason assigned to each record
// by the quota stage's ordered rule list.
type Reason string

const (
	ReasonNotExcluded   Reason = "not excluded"
	ReasonQualityChecks Reason = "failed quality checks"
	ReasonMissingTicket Reason = "missing tracking number"
	ReasonDidNotFinish  Reason = "did not finish"
	ReasonWithdrawal    Reason = "withdrawal request"
	ReasonScreenout     Reason = "screenout"
	ReasonWrongRegion   Reason = "not in target region"
)

// Reasons returns every reason label in a stable display order, used to
// zero-fill the reason-count tabulation.
func Reasons() []Reason {
	return []Reason{
		ReasonNotExcluded,
		ReasonQualityChecks,
		ReasonMissingTicket,
		ReasonDidNotFinish,
		ReasonWithdrawal,
		ReasonScreenout,
		ReasonWrongRegion,
	}
}
