package constants

const (
	// IDRandomBytes is the entropy of generated record IDs (hex-encoded).
	IDRandomBytes = 16

	// ResetTokenBytes is the entropy of password-reset tokens.
	ResetTokenBytes = 32

	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)
