package domain

import "time"

// Audit event names.
const (
	AuditLogin          = "login"
	AuditLogin2FA       = "login.2fa_completed"
	AuditLogout         = "logout"
	AuditTwoFactorOn    = "twofactor.enabled"
	AuditTwoFactorOff   = "twofactor.disabled"
	AuditRecoveryUsed   = "twofactor.recovery_code_used"
	AuditRegistered     = "register"
	AuditResetRequested = "password_reset.requested"
)

// AuditRecord is an append-only security event.
type AuditRecord struct {
	ID        string
	UserID    string
	Event     string
	Detail    string // free-form, never contains secrets
	CreatedAt time.Time
}
