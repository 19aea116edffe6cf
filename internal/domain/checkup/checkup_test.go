package checkup

import (
	"errors"
	"testing"

	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

func TestValidateTargetURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		wantErr bool
	}{
		{name: "https", rawURL: "https://example.com"},
		{name: "http", rawURL: "http://example.com/path?query=1"},
		{name: "with port", rawURL: "https://example.com:8443"},
		{name: "empty", rawURL: "", wantErr: true},
		{name: "no scheme", rawURL: "example.com", wantErr: true},
		{name: "wrong scheme", rawURL: "ftp://example.com", wantErr: true},
		{name: "no host", rawURL: "https://", wantErr: true},
		{name: "garbage", rawURL: "://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargetURL(tt.rawURL)
			if tt.wantErr && !errors.Is(err, sharedErrors.ErrInvalidTargetURL) {
				t.Fatalf("expected ErrInvalidTargetURL, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewCheckup(t *testing.T) {
	cu, err := NewCheckup("https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cu.ID() == "" {
		t.Error("checkup should have an id")
	}
	if cu.URL() != "https://example.com" {
		t.Errorf("url = %q", cu.URL())
	}
	if cu.OwnerID() != "owner-1" {
		t.Errorf("owner = %q", cu.OwnerID())
	}
	if cu.CreatedAt().IsZero() {
		t.Error("created_at should be set")
	}
	if len(cu.Checks()) != 0 {
		t.Error("new checkup should have no checks")
	}
}

func TestNewCheckupValidation(t *testing.T) {
	if _, err := NewCheckup("https://example.com", ""); !errors.Is(err, sharedErrors.ErrEmptyOwner) {
		t.Errorf("empty owner: got %v, want ErrEmptyOwner", err)
	}
	if _, err := NewCheckup("not-a-url", "owner-1"); !errors.Is(err, sharedErrors.ErrInvalidTargetURL) {
		t.Errorf("bad url: got %v, want ErrInvalidTargetURL", err)
	}
}

func TestAttachCheckAndLookup(t *testing.T) {
	cu, _ := NewCheckup("https://example.com", "owner-1")
	for _, checkType := range AllCheckTypes() {
		chk, err := NewCheck(cu.ID(), checkType)
		if err != nil {
			t.Fatalf("new check %s: %v", checkType, err)
		}
		cu.AttachCheck(chk)
	}

	checks := cu.Checks()
	if len(checks) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(checks))
	}

	found, ok := cu.CheckByID(checks[2].ID())
	if !ok || found.ID() != checks[2].ID() {
		t.Error("CheckByID should find an attached check")
	}
	if _, ok := cu.CheckByID("missing"); ok {
		t.Error("CheckByID should not find an unknown id")
	}
}

func TestChecksReturnsCopy(t *testing.T) {
	cu, _ := NewCheckup("https://example.com", "owner-1")
	chk, _ := NewCheck(cu.ID(), TypePortScan)
	cu.AttachCheck(chk)

	checks := cu.Checks()
	checks[0] = nil
	if got := cu.Checks(); got[0] == nil {
		t.Error("mutating the returned slice should not affect the aggregate")
	}
}
