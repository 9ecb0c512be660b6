// Package auth tracks whether a client was built with API credentials and guards
// private exchange operations accordingly.
package auth

import (
	"fmt"
	"strings"

	"exchange-wrapper/internal/core"
)

type State int

const (
	NotInstantiated State = iota
	NotAuthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case NotAuthenticated:
		return "not_authenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "not_instantiated"
	}
}

type Credentials struct {
	APIKey    string
	APISecret string
}

// Complete reports whether both halves of the key pair are present.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
}

// Gate holds the client state. It is decided once by NewGate and never changes;
// the zero Gate is NotInstantiated and rejects every private operation.
type Gate struct {
	state State
}

func NewGate(creds Credentials) *Gate {
	if creds.Complete() {
		return &Gate{state: Authenticated}
	}
	return &Gate{state: NotAuthenticated}
}

func (g *Gate) State() State {
	if g == nil {
		return NotInstantiated
	}
	return g.state
}

// Require fails with core.ErrNotAuthenticated unless the client is authenticated.
func (g *Gate) Require(op string) error {
	switch g.State() {
	case Authenticated:
		return nil
	case NotAuthenticated:
		return fmt.Errorf("%w: %s requires the private API, client has no credentials", core.ErrNotAuthenticated, op)
	default:
		return fmt.Errorf("%w: %s called before the client was instantiated", core.ErrNotAuthenticated, op)
	}
}
