// Package identity resolves commit author emails to display names.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnknownAuthor is returned when an email has no associated commit history.
var ErrUnknownAuthor = errors.New("unknown author")

// NormalizeEmail strips surrounding whitespace and angle brackets from an email
// as it appears in git metadata ("<alice@x.com>").
func NormalizeEmail(raw string) string {
	email := strings.TrimSpace(raw)
	email = strings.TrimPrefix(email, "<")

	return strings.TrimSuffix(email, ">")
}

type signature struct {
	name string
	when time.Time
}

// Dict maps author emails to the most recent name used with them.
// It is safe for concurrent use.
type Dict struct {
	mu      sync.RWMutex
	byEmail map[string]signature
}

// NewDict creates an empty identity dictionary.
func NewDict() *Dict {
	return &Dict{byEmail: make(map[string]signature)}
}

// Observe records that name committed with email at when. A later observation
// replaces the name; an older one is ignored.
func (d *Dict) Observe(name, email string, when time.Time) {
	email = NormalizeEmail(email)
	if email == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.byEmail[email]
	if ok && when.Before(prev.when) {
		return
	}

	d.byEmail[email] = signature{name: strings.TrimSpace(name), when: when}
}

// NameByEmail returns the latest name recorded for email.
func (d *Dict) NameByEmail(email string) (string, error) {
	email = NormalizeEmail(email)

	d.mu.RLock()
	sig, ok := d.byEmail[email]
	d.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAuthor, email)
	}

	return sig.name, nil
}

// Len returns the number of known emails.
func (d *Dict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.byEmail)
}

// Merge copies every identity from other into d, keeping the most recent name
// per email.
func (d *Dict) Merge(other *Dict) {
	other.mu.RLock()
	snapshot := make(map[string]signature, len(other.byEmail))

	for email, sig := range other.byEmail {
		snapshot[email] = sig
	}
	other.mu.RUnlock()

	for email, sig := range snapshot {
		d.Observe(sig.name, email, sig.when)
	}
}
