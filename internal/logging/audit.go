package logging

// AuditEvent records an on-chain write made on behalf of the connected wallet.
type AuditEvent struct {
	Operation string // "approve", "stake", "withdraw", "claim"
	Actor     string // connected wallet address
	Target    string // contract address
	Result    string // "submitted", "confirmed" or "failed"
	TxHash    string
	Details   string
}

// Audit logs a transaction lifecycle event with structured fields.
// Audit events are logged at Info level with an "audit" attribute so they can
// be filtered from regular application logs.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", event.Target,
		"result", event.Result,
		"tx_hash", event.TxHash,
		"details", event.Details,
	)
}
