package engine

import (
	"errors"
	"testing"
)

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Version
		want int
	}{
		{"equal", "7.8.0", "7.8.0", 0},
		{"below", "7.8.0", "7.10.1", -1},
		{"above", "7.10.1", "7.8.0", 1},
		{"numeric not lexicographic", "7.9", "7.10", -1},
		{"missing segments are zero", "7.8", "7.8.0", 0},
		{"shorter below", "7", "7.0.1", -1},
		{"major wins", "8.0", "7.99.99", 1},
		{"empty below anything", "", "0.1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestVersionBounds(t *testing.T) {
	if !Version("7.7.9").Below("7.8.0") {
		t.Error("7.7.9 should be below 7.8.0")
	}
	if Version("7.8.0").Below("7.8.0") {
		t.Error("7.8.0 should not be below itself")
	}
	if !Version("7.8.0").AtLeast("7.8.0") {
		t.Error("7.8.0 should be at least 7.8.0")
	}
	if !Version("7.10.1").AtLeast("7.8.0") {
		t.Error("7.10.1 should be at least 7.8.0")
	}
}

func TestFamilyPredicates(t *testing.T) {
	tests := []struct {
		family     Family
		debianLike bool
		redhatLike bool
		linux      bool
		posix      bool
	}{
		{FamilyUbuntu, true, false, true, true},
		{FamilyDebian, true, false, true, true},
		{FamilyRedhat, false, true, true, true},
		{FamilyCentOS, false, true, true, true},
		{FamilySuse, false, false, true, true},
		{FamilyFreeBSD, false, false, false, true},
		{FamilyWindows, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			if got := tt.family.IsDebianLike(); got != tt.debianLike {
				t.Errorf("IsDebianLike() = %v, want %v", got, tt.debianLike)
			}
			if got := tt.family.IsRedhatLike(); got != tt.redhatLike {
				t.Errorf("IsRedhatLike() = %v, want %v", got, tt.redhatLike)
			}
			if got := tt.family.IsLinux(); got != tt.linux {
				t.Errorf("IsLinux() = %v, want %v", got, tt.linux)
			}
			if got := tt.family.IsPosix(); got != tt.posix {
				t.Errorf("IsPosix() = %v, want %v", got, tt.posix)
			}
		})
	}
}

func TestExecOptionsAccepts(t *testing.T) {
	var opts ExecOptions
	if !opts.Accepts(0) {
		t.Error("default options should accept exit 0")
	}
	if opts.Accepts(4) {
		t.Error("default options should reject exit 4")
	}

	opts = ExecOptions{ExpectedExitCodes: []int{0, 4}}
	if !opts.Accepts(4) {
		t.Error("should accept exit 4 when expected")
	}
	if opts.Accepts(1) {
		t.Error("should reject exit 1")
	}
}

func TestErrorKindPredicates(t *testing.T) {
	base := NewError(KindUnsupportedVersion, "too new")
	wrapped := WrapError(KindDependencyFailed, "dep failed", base)

	if !IsDependencyFailed(wrapped) {
		t.Error("wrapped error should be DependencyFailed")
	}
	// errors.As stops at the outermost EngineError, so the wrapper's
	// kind wins even though the cause is itself classified.
	if KindOf(wrapped) != KindDependencyFailed {
		t.Errorf("KindOf = %s, want %s", KindOf(wrapped), KindDependencyFailed)
	}
	// The dependency's own kind stays reachable through Unwrap.
	if KindOf(errors.Unwrap(wrapped)) != KindUnsupportedVersion {
		t.Errorf("KindOf(unwrapped) = %s, want %s", KindOf(errors.Unwrap(wrapped)), KindUnsupportedVersion)
	}
	if !IsUnsupportedVersion(base) {
		t.Error("base error should be UnsupportedVersion")
	}
}
