package dispatcher

import "strings"

// Slot is one credential together with its position in the pool. Only the
// index is ever logged.
type Slot struct {
	Index      int
	Credential string
}

// Pool is the ordered, immutable set of credentials.
type Pool struct {
	credentials []string
}

// NewPool drops blank entries and fails with ErrNoCredentials if nothing is left.
func NewPool(credentials []string) (*Pool, error) {
	kept := make([]string, 0, len(credentials))
	for _, c := range credentials {
		if c = strings.TrimSpace(c); c != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoCredentials
	}
	return &Pool{credentials: kept}, nil
}

func (p *Pool) Len() int {
	return len(p.credentials)
}

// StartFor is the rotation offset for the item at position i of a batch.
func (p *Pool) StartFor(i int) int {
	n := len(p.credentials)
	return ((i % n) + n) % n
}

// RotationOrder yields every credential exactly once, beginning at
// start mod N and wrapping around.
func (p *Pool) RotationOrder(start int) []Slot {
	n := len(p.credentials)
	first := p.StartFor(start)
	order := make([]Slot, n)
	for offset := 0; offset < n; offset++ {
		idx := (first + offset) % n
		order[offset] = Slot{Index: idx, Credential: p.credentials[idx]}
	}
	return order
}
