// Package secret resolves opaque credential references into the
// material a handler needs for its handshake. References are opaque
// strings of the form "keyring:<key>" or "env:<VAR>"; a bare reference
// defaults to the keyring. Plaintext material lives only for the scope
// of one handshake call and is never logged.
package secret

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// Credentials is the resolved secret material for one handshake.
// Classic accounts use Username/Password; provider accounts carry an
// OAuth token.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	Token *oauth2.Token `json:"token,omitempty"`
}

// Resolver turns a credential reference into Credentials.
type Resolver interface {
	Resolve(ref string) (Credentials, error)
}

// ChainResolver dispatches on the reference scheme.
type ChainResolver struct {
	keyring *KeyringStore
}

// NewResolver returns the default resolver backed by the OS keyring
// under the given service name.
func NewResolver(service string) *ChainResolver {
	return &ChainResolver{keyring: NewKeyringStore(service)}
}

// Resolve resolves ref. "env:VAR" reads the variable as
// "user:password" (or a bare password); everything else is a keyring
// key, with an optional "keyring:" prefix.
func (r *ChainResolver) Resolve(ref string) (Credentials, error) {
	if ref == "" {
		return Credentials{}, fmt.Errorf("empty credential reference")
	}
	if name, ok := strings.CutPrefix(ref, "env:"); ok {
		v := os.Getenv(name)
		if v == "" {
			return Credentials{}, fmt.Errorf("environment variable %s is not set", name)
		}
		if user, pass, ok := strings.Cut(v, ":"); ok {
			return Credentials{Username: user, Password: pass}, nil
		}
		return Credentials{Password: v}, nil
	}
	key := strings.TrimPrefix(ref, "keyring:")
	return r.keyring.Load(key)
}

// Static is a fixed in-memory resolver used in tests.
type Static map[string]Credentials

func (s Static) Resolve(ref string) (Credentials, error) {
	creds, ok := s[ref]
	if !ok {
		return Credentials{}, fmt.Errorf("no credentials for reference %q", ref)
	}
	return creds, nil
}
