package models

import "time"

// TwoFactorMethod selects how a second-factor challenge is satisfied.
type TwoFactorMethod string

const (
	MethodEmail TwoFactorMethod = "email"
	MethodTOTP  TwoFactorMethod = "totp"
)

// TwoFactorChallenge is a single-use second-factor challenge issued after a
// successful primary authentication for a gated role. For the email method
// CodeHash holds a bcrypt hash of the delivered code; for TOTP no code is
// generated and verification goes through the user's provisioned secret.
type TwoFactorChallenge struct {
	Token     string          `db:"token"`
	UserID    string          `db:"user_id"`
	Address   string          `db:"address"`
	Method    TwoFactorMethod `db:"method"`
	CodeHash  *string         `db:"code_hash"`
	ExpiresAt time.Time       `db:"expires_at"`
	Verified  bool            `db:"verified"`
	CreatedAt time.Time       `db:"created_at"`
}

// ExpiredAt reports whether the challenge is past its expiry at the given time.
func (c *TwoFactorChallenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// VerifyResult is the typed outcome of a challenge verification so the
// caller can distinguish a wrong code from a consumed or expired challenge.
type VerifyResult string

const (
	VerifySuccess     VerifyResult = "success"
	VerifyExpired     VerifyResult = "expired"
	VerifyInvalidCode VerifyResult = "invalid_code"
	VerifyAlreadyUsed VerifyResult = "already_used"
)

// TOTPEnrollment holds a user's provisioned TOTP secret, encrypted at rest
// with AES-256-GCM.
type TOTPEnrollment struct {
	UserID          string    `db:"user_id"`
	SecretEncrypted []byte    `db:"secret_encrypted"`
	SecretNonce     []byte    `db:"secret_nonce"`
	CreatedAt       time.Time `db:"created_at"`
}
