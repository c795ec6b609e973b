package profile

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "a", "my-profile", "under_score", "abc123"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "dot.name", "slash/name", strings.Repeat("a", 65)}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsAreProfileScoped(t *testing.T) {
	a := Dir("alpha")
	b := Dir("beta")
	if a == b {
		t.Error("profiles must not share a directory")
	}
	if !strings.HasPrefix(CacheDBPath("alpha"), a) {
		t.Errorf("cache db %q not under profile dir %q", CacheDBPath("alpha"), a)
	}
	if !strings.HasPrefix(LogPath("alpha"), a) {
		t.Errorf("log path %q not under profile dir %q", LogPath("alpha"), a)
	}
}

func TestResolveFlagOverride(t *testing.T) {
	if got := Resolve("custom"); got != "custom" {
		t.Errorf("Resolve(custom) = %q, want custom", got)
	}
}

func TestLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()

	l1, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock: %v", err)
	}

	// A second flock on a separate fd must fail while the first is held.
	if _, err := AcquireLock(dir); err == nil {
		t.Fatal("second AcquireLock should fail while lock is held")
	} else if _, ok := err.(*LockHeldError); !ok {
		t.Errorf("error type = %T, want *LockHeldError", err)
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// After release the lock is free again.
	l2, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock after release: %v", err)
	}
	if err := l2.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() = %v, want nil", err)
	}
}
