// Package lock implements the tri-state operator lock that governs auth
// code rotation and client admission.
package lock

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind distinguishes the three Lock variants. Capacity is carried
// separately in N so that a JSON bool never gets mistaken for a
// capacity of 0 or 1.
type Kind int

const (
	// Open is the default: codes rotate normally and any visitor may connect.
	Open Kind = iota
	// Closed suspends admission of new clients; only currently bound clients continue.
	Closed
	// Capacity pins the code and admits up to N concurrent clients.
	Capacity
)

func (k Kind) String() string {
	switch k {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Capacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Lock is the tagged union described in spec §3: Open | Closed | Capacity(n).
type Lock struct {
	Kind Kind
	N    uint
}

// NewOpen returns the Open lock.
func NewOpen() Lock { return Lock{Kind: Open} }

// NewClosed returns the Closed lock.
func NewClosed() Lock { return Lock{Kind: Closed} }

// NewCapacity returns a Capacity(n) lock. n must be >= 1.
func NewCapacity(n uint) Lock {
	if n < 1 {
		n = 1
	}
	return Lock{Kind: Capacity, N: n}
}

// Equal reports whether two locks denote the same state. Two Capacity
// locks are equal only if their N also matches.
func (l Lock) Equal(other Lock) bool {
	if l.Kind != other.Kind {
		return false
	}
	if l.Kind == Capacity {
		return l.N == other.N
	}
	return true
}

func (l Lock) String() string {
	if l.Kind == Capacity {
		return fmt.Sprintf("capacity(%d)", l.N)
	}
	return l.Kind.String()
}

// MarshalJSON reproduces the original wire contract: Open -> false,
// Closed -> true, Capacity(n) -> n. A boolean true/false must never be
// confused with an integer 1/0, which is why this type exists instead
// of encoding/json's native bool-or-number handling.
func (l Lock) MarshalJSON() ([]byte, error) {
	switch l.Kind {
	case Open:
		return []byte("false"), nil
	case Closed:
		return []byte("true"), nil
	case Capacity:
		return json.Marshal(l.N)
	default:
		return nil, fmt.Errorf("lock: unknown kind %d", l.Kind)
	}
}

// UnmarshalJSON accepts a JSON bool or an integer >= 1 (0 and negative
// values are rejected; null reads as Open), per the
// CurrentExperienceUpdate.lock: Optional[Union[bool, int]] contract in
// the original footron_api/routes/api.py.
func (l *Lock) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("false")):
		*l = NewOpen()
		return nil
	case bytes.Equal(data, []byte("true")):
		*l = NewClosed()
		return nil
	case bytes.Equal(data, []byte("null")):
		*l = NewOpen()
		return nil
	default:
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("lock: invalid lock value %q: %w", data, err)
		}
		if n < 1 {
			return fmt.Errorf("lock: capacity must be >= 1, got %d", n)
		}
		*l = NewCapacity(uint(n))
		return nil
	}
}
