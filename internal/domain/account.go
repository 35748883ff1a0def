package domain

import (
	"strconv"
	"strings"
	"time"
)

// Protocol identifies which handler variant serves an account.
// Classic accounts speak IMAP/SMTP directly; provider accounts are
// backed by a vendor API and use the "provider:<name>" form.
type Protocol string

const ProtocolClassic Protocol = "classic"

const providerPrefix = "provider:"

// ProviderProtocol returns the protocol tag for a named provider.
func ProviderProtocol(name string) Protocol {
	return Protocol(providerPrefix + name)
}

// IsProvider reports whether p is a provider-backed protocol.
func (p Protocol) IsProvider() bool {
	return strings.HasPrefix(string(p), providerPrefix)
}

// ProviderName returns the provider name for a provider protocol,
// or "" for classic.
func (p Protocol) ProviderName() string {
	if !p.IsProvider() {
		return ""
	}
	return strings.TrimPrefix(string(p), providerPrefix)
}

// Endpoint describes one network endpoint of an account.
type Endpoint struct {
	Host   string
	Port   int
	UseTLS bool
}

// Addr returns the host:port dial address.
func (e Endpoint) Addr() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

// Account is a configured email identity. Accounts are immutable after
// load; configuration changes are picked up by replacing the registry
// snapshot wholesale.
type Account struct {
	ID       string
	Protocol Protocol

	// From is the identity used as the envelope and header sender
	// for outbound mail.
	From Address

	// Incoming is the IMAP endpoint, Outgoing the SMTP endpoint.
	// Provider accounts leave both empty.
	Incoming Endpoint
	Outgoing Endpoint

	// CredentialRef is an opaque reference resolved by the secret
	// collaborator at handshake time. Never logged.
	CredentialRef string

	// Timeout bounds the handshake and each operation independently.
	Timeout time.Duration
}
