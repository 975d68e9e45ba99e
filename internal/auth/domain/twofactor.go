package domain

import "time"

// RecoveryCodeCount is the number of single-use recovery codes issued when a
// second factor is activated.
const RecoveryCodeCount = 10

// TwoFactorProfile holds a user's TOTP enrollment. The secret is persisted
// on setup but the profile only becomes Enabled after a successful first
// verification against that secret.
type TwoFactorProfile struct {
	UserID     string
	TOTPSecret string
	Enabled    bool
	Verified   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TwoFactorSetup is the provisioning payload returned once from setup.
type TwoFactorSetup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
	QRCode     string `json:"qrCode,omitempty"` // PNG data URI
	Issuer     string `json:"issuer"`
	Account    string `json:"account"`
}

// TwoFactorStatus is the read-only enrollment summary.
type TwoFactorStatus struct {
	Enabled      bool `json:"enabled"`
	Verified     bool `json:"verified"`
	PendingSetup bool `json:"pendingSetup"`
}

// PendingLogin parks a backend session server-side while the client proves
// possession of the second factor. The client only ever holds the opaque
// temp token; the row is keyed by its fingerprint.
type PendingLogin struct {
	ID           string // fingerprint of the temp token
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	SessionExp   time.Time // expiry of the parked access token
	Verified     bool      // set after a successful code validation
	Attempts     int
	ExpiresAt    time.Time // expiry of the pending login itself
	CreatedAt    time.Time
}
