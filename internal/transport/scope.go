package transport

import "net/http"

// Scope decorates outgoing requests with headers. Scopes compose: a typed
// API client stacks a content-type scope with an auth scope.
type Scope interface {
	Apply(req *http.Request) error
}

// ScopeFunc adapts a function to the Scope interface.
type ScopeFunc func(req *http.Request) error

func (f ScopeFunc) Apply(req *http.Request) error { return f(req) }

// JSONScope sets the JSON content type on requests that carry a body.
func JSONScope() Scope {
	return ScopeFunc(func(req *http.Request) error {
		if req.Body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return nil
	})
}

// UserAgentScope identifies the host application.
func UserAgentScope(agent string) Scope {
	return ScopeFunc(func(req *http.Request) error {
		req.Header.Set("User-Agent", agent)
		return nil
	})
}

// BearerScope attaches a bearer token obtained from the token source on
// every request. The source is consulted per request so refreshed tokens
// take effect immediately.
func BearerScope(token func() (string, error)) Scope {
	return ScopeFunc(func(req *http.Request) error {
		t, err := token()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+t)
		return nil
	})
}

// ComposeScopes applies each scope in order.
func ComposeScopes(scopes ...Scope) Scope {
	return ScopeFunc(func(req *http.Request) error {
		for _, s := range scopes {
			if s == nil {
				continue
			}
			if err := s.Apply(req); err != nil {
				return err
			}
		}
		return nil
	})
}
