package identity

import (
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults applied by NewOptions and LoadOptions. Durations follow the
// Config contract: token, extended token, and session values are hours;
// lockout and reset values are minutes.
const (
	DefaultSigningMethod         = "HS256"
	DefaultTokenExpiration       = 1
	DefaultExtendedTokenDuration = 168
	DefaultSessionDuration       = 24
	DefaultMaxLoginAttempts      = 5
	DefaultLockoutDuration       = 15
	DefaultPasswordMinLength     = 6
	DefaultResetTokenDuration    = 60
	DefaultIssuer                = "identity"
)

// DefaultLockoutWindow is DefaultLockoutDuration as a time.Duration.
const DefaultLockoutWindow = DefaultLockoutDuration * time.Minute

// Options is the value implementation of Config. The zero value is not
// usable; build one through NewOptions or LoadOptions.
type Options struct {
	SigningKey            string   `json:"-"`
	SigningMethod         string   `json:"signing_method"`
	TokenExpiration       int      `json:"token_expiration"`
	ExtendedTokenDuration int      `json:"extended_token_duration"`
	SessionDuration       int      `json:"session_duration"`
	Issuer                string   `json:"issuer"`
	Audience              []string `json:"audience"`
	MaxLoginAttempts      int      `json:"max_login_attempts"`
	LockoutDuration       int      `json:"lockout_duration"`
	BcryptCost            int      `json:"bcrypt_cost"`
	PasswordMinLength     int      `json:"password_min_length"`
	ResetTokenDuration    int      `json:"reset_token_duration"`
}

var _ Config = (*Options)(nil)

// NewOptions returns options with every default filled in. The signing key
// has no default; set it before handing the options to an issuer.
func NewOptions(signingKey string) *Options {
	return &Options{
		SigningKey:            signingKey,
		SigningMethod:         DefaultSigningMethod,
		TokenExpiration:       DefaultTokenExpiration,
		ExtendedTokenDuration: DefaultExtendedTokenDuration,
		SessionDuration:       DefaultSessionDuration,
		Issuer:                DefaultIssuer,
		MaxLoginAttempts:      DefaultMaxLoginAttempts,
		LockoutDuration:       DefaultLockoutDuration,
		PasswordMinLength:     DefaultPasswordMinLength,
		ResetTokenDuration:    DefaultResetTokenDuration,
	}
}

// LoadOptions builds options from IDENTITY_* environment variables, reading
// a local .env file first when present.
func LoadOptions() (*Options, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("IDENTITY_SIGNING_METHOD", DefaultSigningMethod)
	viper.SetDefault("IDENTITY_TOKEN_EXPIRATION", DefaultTokenExpiration)
	viper.SetDefault("IDENTITY_EXTENDED_TOKEN_DURATION", DefaultExtendedTokenDuration)
	viper.SetDefault("IDENTITY_SESSION_DURATION", DefaultSessionDuration)
	viper.SetDefault("IDENTITY_ISSUER", DefaultIssuer)
	viper.SetDefault("IDENTITY_MAX_LOGIN_ATTEMPTS", DefaultMaxLoginAttempts)
	viper.SetDefault("IDENTITY_LOCKOUT_DURATION", DefaultLockoutDuration)
	viper.SetDefault("IDENTITY_PASSWORD_MIN_LENGTH", DefaultPasswordMinLength)
	viper.SetDefault("IDENTITY_RESET_TOKEN_DURATION", DefaultResetTokenDuration)

	opts := &Options{
		SigningKey:            viper.GetString("IDENTITY_SIGNING_KEY"),
		SigningMethod:         viper.GetString("IDENTITY_SIGNING_METHOD"),
		TokenExpiration:       viper.GetInt("IDENTITY_TOKEN_EXPIRATION"),
		ExtendedTokenDuration: viper.GetInt("IDENTITY_EXTENDED_TOKEN_DURATION"),
		SessionDuration:       viper.GetInt("IDENTITY_SESSION_DURATION"),
		Issuer:                viper.GetString("IDENTITY_ISSUER"),
		Audience:              splitAudience(viper.GetString("IDENTITY_AUDIENCE")),
		MaxLoginAttempts:      viper.GetInt("IDENTITY_MAX_LOGIN_ATTEMPTS"),
		LockoutDuration:       viper.GetInt("IDENTITY_LOCKOUT_DURATION"),
		BcryptCost:            viper.GetInt("IDENTITY_BCRYPT_COST"),
		PasswordMinLength:     viper.GetInt("IDENTITY_PASSWORD_MIN_LENGTH"),
		ResetTokenDuration:    viper.GetInt("IDENTITY_RESET_TOKEN_DURATION"),
	}

	if opts.SigningKey == "" {
		return nil, goerrors.New("IDENTITY_SIGNING_KEY is required", goerrors.CategoryValidation).
			WithTextCode(textCodeValidationFailed)
	}

	return opts, nil
}

// GetSigningKey implements Config.
func (o *Options) GetSigningKey() string { return o.SigningKey }

// GetSigningMethod implements Config.
func (o *Options) GetSigningMethod() string {
	if o.SigningMethod == "" {
		return DefaultSigningMethod
	}
	return o.SigningMethod
}

// GetTokenExpiration implements Config, in hours.
func (o *Options) GetTokenExpiration() int {
	if o.TokenExpiration <= 0 {
		return DefaultTokenExpiration
	}
	return o.TokenExpiration
}

// GetExtendedTokenDuration implements Config, in hours.
func (o *Options) GetExtendedTokenDuration() int {
	if o.ExtendedTokenDuration <= 0 {
		return DefaultExtendedTokenDuration
	}
	return o.ExtendedTokenDuration
}

// GetSessionDuration implements Config, in hours.
func (o *Options) GetSessionDuration() int {
	if o.SessionDuration <= 0 {
		return DefaultSessionDuration
	}
	return o.SessionDuration
}

// GetIssuer implements Config.
func (o *Options) GetIssuer() string {
	if o.Issuer == "" {
		return DefaultIssuer
	}
	return o.Issuer
}

// GetAudience implements Config.
func (o *Options) GetAudience() []string { return o.Audience }

// GetMaxLoginAttempts implements Config.
func (o *Options) GetMaxLoginAttempts() int {
	if o.MaxLoginAttempts <= 0 {
		return DefaultMaxLoginAttempts
	}
	return o.MaxLoginAttempts
}

// GetLockoutDuration implements Config, in minutes.
func (o *Options) GetLockoutDuration() int {
	if o.LockoutDuration <= 0 {
		return DefaultLockoutDuration
	}
	return o.LockoutDuration
}

// GetBcryptCost implements Config. Zero lets the hasher pick its own cost.
func (o *Options) GetBcryptCost() int { return o.BcryptCost }

// GetPasswordMinLength implements Config.
func (o *Options) GetPasswordMinLength() int {
	if o.PasswordMinLength <= 0 {
		return DefaultPasswordMinLength
	}
	return o.PasswordMinLength
}

// GetResetTokenDuration implements Config, in minutes.
func (o *Options) GetResetTokenDuration() int {
	if o.ResetTokenDuration <= 0 {
		return DefaultResetTokenDuration
	}
	return o.ResetTokenDuration
}

// LockoutWindow is GetLockoutDuration as a time.Duration.
func (o *Options) LockoutWindow() time.Duration {
	return time.Duration(o.GetLockoutDuration()) * time.Minute
}

// ResetTokenWindow is GetResetTokenDuration as a time.Duration.
func (o *Options) ResetTokenWindow() time.Duration {
	return time.Duration(o.GetResetTokenDuration()) * time.Minute
}

func splitAudience(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	audience := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			audience = append(audience, trimmed)
		}
	}
	return audience
}
