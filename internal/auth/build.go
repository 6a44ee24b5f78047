package auth

import "fmt"

// BuildConfig is the subset of configuration needed to construct a single
// bundled strategy. Composite strategies (one-of/all-of) are assembled by
// the caller from the Authenticator values this returns; "remote" is built
// here with a bearer-token child.
type BuildConfig struct {
	Strategy  string
	Token     string // basic: "user:pass"; bearer/cookie/header: the expected value
	Header    string
	Cookie    string
	RemoteURL string
}

// Build constructs the bundled strategy named by cfg.Strategy. Returns
// ErrUnknownStrategy for anything outside the closed set; construction
// failure at config time is fatal per §7.
func Build(cfg BuildConfig) (Authenticator, error) {
	switch cfg.Strategy {
	case "", "none":
		return None{}, nil
	case "basic":
		user, pass := splitUserPass(cfg.Token)
		return Basic{Username: user, Password: pass}, nil
	case "header":
		return HeaderEquals{Header: cfg.Header, Want: cfg.Token}, nil
	case "bearer":
		return BearerToken{Token: cfg.Token}, nil
	case "cookie":
		return CookieEquals{Cookie: cfg.Cookie, Want: cfg.Token}, nil
	case "remote":
		return Remote{Child: BearerToken{}, URL: cfg.RemoteURL}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
}

func splitUserPass(token string) (user, pass string) {
	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			return token[:i], token[i+1:]
		}
	}
	return token, ""
}
