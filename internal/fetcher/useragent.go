package fetcher

import "sync/atomic"

// DefaultUserAgents is the rotating set used when configuration supplies none.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:130.0) Gecko/20100101 Firefox/130.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:129.0) Gecko/20100101 Firefox/129.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
}

// UserAgents hands out user agents round-robin. Safe for concurrent use.
type UserAgents struct {
	agents []string
	next   atomic.Uint64
}

// NewUserAgents builds a rotation over agents, falling back to DefaultUserAgents.
func NewUserAgents(agents []string) *UserAgents {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &UserAgents{agents: append([]string(nil), agents...)}
}

// Next returns the next user agent in the rotation.
func (u *UserAgents) Next() string {
	n := u.next.Add(1) - 1
	return u.agents[n%uint64(len(u.agents))]
}
