package reconciler

// Kind classifies a per-account failure.
type Kind string

const (
	KindDirectory       Kind = "DirectoryError"
	KindCredential      Kind = "CredentialError"
	KindRegistrationAPI Kind = "RegistrationAPIError"
	KindDeployment      Kind = "DeploymentError"
	KindConfig          Kind = "ConfigError"
)

// Overall run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Failure names one account that could not be reconciled this run and why.
type Failure struct {
	AccountID string `json:"accountId"`
	Kind      Kind   `json:"errorKind"`
	Message   string `json:"message,omitempty"`
}

// Report is the structured result of a reconciliation run. Every account
// ends the run in exactly one bucket.
type Report struct {
	Status    string    `json:"status"`
	Succeeded []string  `json:"succeeded"`
	Unmatched []string  `json:"unmatched"`
	Failed    []Failure `json:"failed"`
}

func (r *Report) addSuccess(accountID string) {
	r.Succeeded = append(r.Succeeded, accountID)
}

func (r *Report) addUnmatched(accountID string) {
	r.Unmatched = append(r.Unmatched, accountID)
}

func (r *Report) addFailure(accountID string, kind Kind, message string) {
	r.Failed = append(r.Failed, Failure{AccountID: accountID, Kind: kind, Message: message})
}

// finish derives the overall status from the buckets.
func (r *Report) finish() *Report {
	switch {
	case len(r.Failed) == 0:
		r.Status = StatusSuccess
	case len(r.Succeeded) == 0 && len(r.Unmatched) == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
	return r
}
