// Package tokenpool manages the rotating set of API credentials. Every
// credential is a token plus an optional proxy; the pool hands out the
// current credential and advances on demand when a token hits its limits.
package tokenpool

import (
	"fmt"
	"sync"
)

// Credential pairs an access token with its optional proxy
type Credential struct {
	Token string
	Proxy string // empty means direct
	Label string // for logs, never the token itself
}

// Pool is a mutex-protected rotating credential pool
type Pool struct {
	mu          sync.Mutex
	credentials []Credential
	current     int
	rotations   int
}

// New builds a pool from aligned token and proxy slices. Proxies may be
// shorter than tokens; missing entries mean direct access.
func New(tokens, proxies []string) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("token pool requires at least one token")
	}

	credentials := make([]Credential, len(tokens))
	for i, token := range tokens {
		proxy := ""
		if i < len(proxies) {
			proxy = proxies[i]
		}
		credentials[i] = Credential{
			Token: token,
			Proxy: proxy,
			Label: fmt.Sprintf("token-%d", i+1),
		}
	}
	return &Pool{credentials: credentials}, nil
}

// Current returns the active credential
func (p *Pool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credentials[p.current]
}

// Rotate advances to the next credential, wrapping around, and returns it
func (p *Pool) Rotate() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = (p.current + 1) % len(p.credentials)
	p.rotations++
	return p.credentials[p.current]
}

// Size returns the number of credentials in the pool
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.credentials)
}

// Rotations returns how many times the pool advanced, for run reports
func (p *Pool) Rotations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotations
}
