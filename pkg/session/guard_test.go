package session

import (
	"errors"
	"testing"
	"time"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
)

func TestGuardDeniesWithoutSession(t *testing.T) {
	guard := NewGuard(time.Minute)
	if err := guard.CanAccess(uuid.New()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSubjectAccessOwnResourcesOnly(t *testing.T) {
	guard := NewGuard(time.Minute)
	subjectID := uuid.New()
	if _, err := guard.Authenticate(subjectID, models.RoleSubject); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	if err := guard.CanAccess(subjectID); err != nil {
		t.Fatalf("expected own access allowed, got %v", err)
	}
	if err := guard.CanAccess(uuid.New()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestClinicianAccessesAnySubject(t *testing.T) {
	guard := NewGuard(time.Minute)
	if _, err := guard.Authenticate(uuid.New(), models.RoleClinician); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if err := guard.CanAccess(uuid.New()); err != nil {
		t.Fatalf("expected clinician access allowed, got %v", err)
	}
}

func TestAuthenticateReplacesPriorSession(t *testing.T) {
	guard := NewGuard(time.Minute)
	first := uuid.New()
	second := uuid.New()

	if _, err := guard.Authenticate(first, models.RoleSubject); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if _, err := guard.Authenticate(second, models.RoleSubject); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	if err := guard.CanAccess(first); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected first subject's access revoked, got %v", err)
	}
	if err := guard.CanAccess(second); err != nil {
		t.Fatalf("expected second subject allowed, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	guard := NewGuard(10 * time.Minute)
	now := time.Now()
	guard.nowFunc = func() time.Time { return now }

	if _, err := guard.Authenticate(uuid.New(), models.RoleClinician); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	now = now.Add(11 * time.Minute)
	if _, ok := guard.Current(); ok {
		t.Fatal("expected session to expire")
	}
	if err := guard.CanAccess(uuid.New()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after expiry, got %v", err)
	}
}

func TestGenerationBumpsOnLoginAndLogout(t *testing.T) {
	guard := NewGuard(time.Minute)
	start := guard.Generation()

	if _, err := guard.Authenticate(uuid.New(), models.RoleSubject); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	afterLogin := guard.Generation()
	if afterLogin == start {
		t.Fatal("expected generation bump on login")
	}

	guard.Logout()
	if guard.Generation() == afterLogin {
		t.Fatal("expected generation bump on logout")
	}
}

func TestRejectsUnknownRole(t *testing.T) {
	guard := NewGuard(time.Minute)
	if _, err := guard.Authenticate(uuid.New(), models.Role("admin")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}
