package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrNetworkDown aborts a run after too many consecutive name-resolution failures.
var ErrNetworkDown = errors.New("repeated DNS/network resolution failures")

var resolutionMarkers = []string{
	"nameresolutionerror",
	"failed to resolve",
	"nodename nor servname provided",
	"temporary failure in name resolution",
	"name or service not known",
	"getaddrinfo failed",
	"no such host",
}

// IsNameResolutionFailure reports whether err stems from DNS resolution.
func IsNameResolutionFailure(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range resolutionMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Sleeper pauses between failures.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// NetworkGuard counts consecutive name-resolution failures across items.
type NetworkGuard struct {
	threshold   int
	cooldown    time.Duration
	sleeper     Sleeper
	consecutive int
}

// NewNetworkGuard builds a guard. A threshold of zero never aborts.
func NewNetworkGuard(threshold int, cooldown time.Duration, sleeper Sleeper) *NetworkGuard {
	return &NetworkGuard{threshold: threshold, cooldown: cooldown, sleeper: sleeper}
}

// Consecutive returns the current streak of resolution failures.
func (g *NetworkGuard) Consecutive() int {
	return g.consecutive
}

// Success resets the streak.
func (g *NetworkGuard) Success() {
	g.consecutive = 0
}

// Observe classifies an item failure. Resolution failures extend the streak and
// sleep the cooldown; reaching the threshold returns ErrNetworkDown. Anything else
// resets the streak.
func (g *NetworkGuard) Observe(ctx context.Context, err error) error {
	if !IsNameResolutionFailure(err) {
		g.consecutive = 0
		return nil
	}
	g.consecutive++
	if g.cooldown > 0 && g.sleeper != nil {
		if serr := g.sleeper.Sleep(ctx, g.cooldown); serr != nil {
			return serr
		}
	}
	if g.threshold > 0 && g.consecutive >= g.threshold {
		return fmt.Errorf("%w (%d consecutive): %w", ErrNetworkDown, g.consecutive, err)
	}
	return nil
}
