package taskname

const (
	// Reputation tasks
	ReputationEvaluateAll     = "reputation:evaluate_all"
	ReputationEvaluateAccount = "reputation:evaluate_account"
)
