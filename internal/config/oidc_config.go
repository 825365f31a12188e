package config

type OIDC struct {
	Issuer       string `env:"OIDC_ISSUER" envDefault:"https://accounts.google.com"`
	ClientID     string `env:"OIDC_CLIENT_ID"`
	ClientSecret string `env:"OIDC_CLIENT_SECRET"`
	RedirectAddr string `env:"OIDC_REDIRECT_ADDR" envDefault:"127.0.0.1:0"`
	Provider     string `env:"OIDC_PROVIDER" envDefault:"google"`
}

var _ OIDCConfig = OIDC{}

func (o OIDC) GetIssuer() string {
	return o.Issuer
}

func (o OIDC) GetClientID() string {
	return o.ClientID
}

func (o OIDC) GetClientSecret() string {
	return o.ClientSecret
}

// GetRedirectAddr returns the loopback address the redirect listener binds to.
func (o OIDC) GetRedirectAddr() string {
	return o.RedirectAddr
}

func (o OIDC) GetProvider() string {
	return o.Provider
}
