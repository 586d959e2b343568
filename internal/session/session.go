// Package session supplies the credential token used by the stream and API
// clients. Providers are read on every call so that a token refreshed
// elsewhere is picked up on the next connect.
package session

import (
	"os"
	"strings"
	"sync"

	"codeberg.org/mutker/fluxdash/internal/logger"
)

// TokenProvider returns the current token, or false when none is available.
type TokenProvider interface {
	Token() (string, bool)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func() (string, bool)

func (f TokenFunc) Token() (string, bool) { return f() }

// Static always returns token; an empty token counts as absent.
func Static(token string) TokenProvider {
	return TokenFunc(func() (string, bool) {
		return token, token != ""
	})
}

// Env reads the named environment variable on every call.
func Env(name string) TokenProvider {
	return TokenFunc(func() (string, bool) {
		v := strings.TrimSpace(os.Getenv(name))
		return v, v != ""
	})
}

// File reads the token from path on every call, trimming surrounding whitespace.
func File(path string, log logger.Logger) TokenProvider {
	return TokenFunc(func() (string, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("Token file unreadable")
			return "", false
		}
		v := strings.TrimSpace(string(data))
		return v, v != ""
	})
}

// Chain returns the first token any provider has.
func Chain(providers ...TokenProvider) TokenProvider {
	return TokenFunc(func() (string, bool) {
		for _, p := range providers {
			if p == nil {
				continue
			}
			if tok, ok := p.Token(); ok {
				return tok, true
			}
		}
		return "", false
	})
}

// Store is an in-memory token slot that can be replaced at runtime, for
// callers that obtain tokens themselves.
type Store struct {
	mu    sync.RWMutex
	token string
}

func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Store) Clear() {
	s.Set("")
}

func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}
