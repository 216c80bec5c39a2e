package providers

import (
	"github.com/samber/do/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/andrewwphillips/bookql/internal/auth"
	"github.com/andrewwphillips/bookql/internal/config"
	"github.com/andrewwphillips/bookql/internal/ratelimit"
)

func ProvideTokens(i do.Injector) (*auth.Tokens, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
}

func ProvidePassword(i do.Injector) (*auth.Password, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return auth.NewPassword(cfg.LoginPassword, bcrypt.DefaultCost)
}

// ProvideLoginLimiter returns nil (no throttling) if the rate is zero.
func ProvideLoginLimiter(i do.Injector) (*ratelimit.Keyed, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.LoginRate == 0 {
		return nil, nil
	}
	return ratelimit.New(cfg.LoginRate, cfg.LoginBurst), nil
}
