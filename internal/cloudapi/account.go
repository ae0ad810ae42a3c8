package cloudapi

// Account is the collaborator that owns the user's cloud identity. The
// output subsystem never authenticates against the identity provider itself;
// it only attaches the access token the account hands out.
type Account interface {
	// IsLoggedIn reports whether the user has an active cloud session.
	IsLoggedIn() bool

	// AccessToken returns the current bearer token.
	AccessToken() (string, error)

	// Username returns the display name used as print-job owner.
	Username() string
}

// StaticAccount is an Account backed by a fixed token, for deployments where
// the host application manages login out of band. An empty token means
// logged out.
type StaticAccount struct {
	Token string
	User  string
}

func (a StaticAccount) IsLoggedIn() bool { return a.Token != "" }

func (a StaticAccount) AccessToken() (string, error) { return a.Token, nil }

func (a StaticAccount) Username() string { return a.User }
