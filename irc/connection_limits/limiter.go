// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package connection_limits implements the three independent token-bucket
// limiters of spec.md §4.6: per-source-IP connection throttling, and
// per-connection command/message rate limiting.
package connection_limits

import (
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrLimitExceeded    = errors.New("connection limit exceeded")
	ErrThrottleExceeded = errors.New("connection throttle exceeded")
)

// CidrLimitConfig is the YAML-deserializable shape of one rate bucket.
type CidrLimitConfig struct {
	Rate  float64       `yaml:"rate"`
	Burst int           `yaml:"burst"`
	Window time.Duration `yaml:"window"`
}

// Limiter bounds new connections per source IP: a hard cap on simultaneous
// clients from one exact address, plus a token-bucket throttle on the rate
// of new connections.
type Limiter struct {
	mutex sync.Mutex

	maxPerSubnet int
	subnetBits   int
	exempted     []*net.IPNet

	counts    map[string]int
	throttles map[string]*rate.Limiter

	throttleRate  rate.Limit
	throttleBurst int
}

type IPLimitsConfig struct {
	MaxConcurrentConnections int      `yaml:"max-concurrent-connections"`
	MaxConnectionsPerWindow  int      `yaml:"max-connections-per-window"`
	Window                   time.Duration `yaml:"window"`
	CidrLenIPv4              int     `yaml:"cidr-len-ipv4"`
	CidrLenIPv6              int     `yaml:"cidr-len-ipv6"`
	Exempted                 []string `yaml:"exempted"`
	BanDuration              time.Duration `yaml:"ban-duration"`
}

func NewLimiter() *Limiter {
	return &Limiter{
		counts:    make(map[string]int),
		throttles: make(map[string]*rate.Limiter),
	}
}

// ApplyConfig re-reads configuration; safe to call mid-flight on REHASH
// (spec.md §9 "REHASH semantics" — buckets are not reset).
func (l *Limiter) ApplyConfig(cfg *IPLimitsConfig) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	if l.throttles == nil {
		l.throttles = make(map[string]*rate.Limiter)
	}

	l.maxPerSubnet = cfg.MaxConcurrentConnections
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l.throttleBurst = cfg.MaxConnectionsPerWindow
	l.throttleRate = rate.Limit(float64(cfg.MaxConnectionsPerWindow) / cfg.Window.Seconds())

	l.exempted = l.exempted[:0]
	for _, cidr := range cfg.Exempted {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			l.exempted = append(l.exempted, n)
		}
	}
}

func (l *Limiter) isExempt(ip net.IP) bool {
	for _, n := range l.exempted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// AddClient registers a new connection attempt from ip, enforcing the
// concurrent-connection cap and the new-connection throttle.
func (l *Limiter) AddClient(ip net.IP) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.isExempt(ip) {
		return nil
	}

	key := ip.String()
	if l.maxPerSubnet > 0 && l.counts[key] >= l.maxPerSubnet {
		return ErrLimitExceeded
	}

	lim, ok := l.throttles[key]
	if !ok {
		lim = rate.NewLimiter(l.throttleRate, l.throttleBurst)
		l.throttles[key] = lim
	}
	if !lim.Allow() {
		return ErrThrottleExceeded
	}

	l.counts[key]++
	return nil
}

// RemoveClient releases the concurrent-connection slot held by ip.
func (l *Limiter) RemoveClient(ip net.IP) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	key := ip.String()
	if l.counts[key] > 0 {
		l.counts[key]--
		if l.counts[key] == 0 {
			delete(l.counts, key)
		}
	}
}

// ResetThrottle clears the throttle bucket for ip, used after a matching
// D-line has been issued so the throttle doesn't compound the ban.
func (l *Limiter) ResetThrottle(ip net.IP) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	delete(l.throttles, ip.String())
}

// TorLimiter is a degenerate Limiter with a single bucket, since every Tor
// exit is folded into one source for rate-limiting purposes.
type TorLimiter struct {
	mutex     sync.Mutex
	max       int
	count     int
	throttle  *rate.Limiter
}

func (t *TorLimiter) Configure(max int, window time.Duration, perWindow int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.max = max
	if window <= 0 {
		window = time.Minute
	}
	t.throttle = rate.NewLimiter(rate.Limit(float64(perWindow)/window.Seconds()), perWindow)
}

func (t *TorLimiter) AddClient() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.max > 0 && t.count >= t.max {
		return ErrLimitExceeded
	}
	if t.throttle != nil && !t.throttle.Allow() {
		return ErrThrottleExceeded
	}
	t.count++
	return nil
}

func (t *TorLimiter) RemoveClient() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.count > 0 {
		t.count--
	}
}

// CommandLimiter is the per-connection token bucket for commands and for
// PRIVMSG/NOTICE traffic (the second and third buckets of spec.md §4.6).
type CommandLimiter struct {
	commands *rate.Limiter
	messages *rate.Limiter
}

func NewCommandLimiter(cmdRate, msgRate float64, cmdBurst, msgBurst int) *CommandLimiter {
	return &CommandLimiter{
		commands: rate.NewLimiter(rate.Limit(cmdRate), cmdBurst),
		messages: rate.NewLimiter(rate.Limit(msgRate), msgBurst),
	}
}

// AllowCommand reports whether a generic command may proceed right now.
// It never blocks: a drained bucket means the caller replies
// RPL_TRYAGAIN and drops the line (spec.md §4.6).
func (c *CommandLimiter) AllowCommand() bool {
	return c.commands.Allow()
}

// AllowMessage reports whether a PRIVMSG/NOTICE may proceed right now.
func (c *CommandLimiter) AllowMessage() bool {
	return c.messages.Allow()
}
