package testutil

import (
	"sync"
	"testing"
	"time"
)

func Assert[T comparable](t *testing.T, expected T, value T, message string) {
	t.Helper()

	if expected != value {
		t.Fatalf("%s: expected %v got %v", message, expected, value)
	}
}

func AssertErr(t *testing.T, expected error, value error, message string) {
	t.Helper()

	if expected == nil && value == nil {
		return
	}

	if expected == nil || value == nil || expected.Error() != value.Error() {
		t.Fatalf("%s: expected %v got %v", message, expected, value)
	}
}

func IsNil(t *testing.T, value interface{}, message string) {
	t.Helper()

	if value != nil {
		t.Fatalf("%s: expected nil got %v", message, value)
	}
}

func IsNotNil(t *testing.T, value interface{}, message string) {
	t.Helper()

	if value == nil {
		t.Fatalf("%s: expected not nil got nil", message)
	}
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	if !cond() {
		t.Fatalf("%s: condition not met within %s", message, timeout)
	}
}

// Journal is an ordered, concurrency-safe record of operations across collaborators.
type Journal struct {
	mx      sync.Mutex
	entries []string
}

func (j *Journal) Add(entry string) {
	j.mx.Lock()
	j.entries = append(j.entries, entry)
	j.mx.Unlock()
}

func (j *Journal) Entries() []string {
	j.mx.Lock()
	defer j.mx.Unlock()

	out := make([]string, len(j.entries))
	copy(out, j.entries)

	return out
}

// Index returns the position of the first entry equal to s, or -1.
func (j *Journal) Index(s string) int {
	for i, e := range j.Entries() {
		if e == s {
			return i
		}
	}

	return -1
}

// LastIndex returns the position of the last entry equal to s, or -1.
func (j *Journal) LastIndex(s string) int {
	entries := j.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i] == s {
			return i
		}
	}

	return -1
}

func (j *Journal) Reset() {
	j.mx.Lock()
	j.entries = nil
	j.mx.Unlock()
}
