package gmail

import (
	"sync"

	"golang.org/x/oauth2"
)

// notifyTokenSource reports every token the wrapped source hands out that
// differs from the last one seen, so refreshed tokens can be persisted.
type notifyTokenSource struct {
	src       oauth2.TokenSource
	onRefresh func(*oauth2.Token)

	mu      sync.Mutex
	current *oauth2.Token
}

// Token implements oauth2.TokenSource.
func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := s.current == nil || s.current.AccessToken != t.AccessToken
	if changed {
		s.current = t
	}
	s.mu.Unlock()

	if changed && s.onRefresh != nil {
		s.onRefresh(t)
	}

	return t, nil
}
