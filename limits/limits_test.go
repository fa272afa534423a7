package limits

import (
	"errors"
	"testing"
)

func TestValidateMessageBody(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrBodyEmpty},
		{"nil", nil, ErrBodyEmpty},
		{"small valid", []byte("hello"), nil},
		{"at limit", make([]byte, MaxMessageBody), nil},
		{"over limit", make([]byte, MaxMessageBody+1), ErrBodyTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageBody(tt.body)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateMessageBody() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessageBody() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFolderDeltaBody(t *testing.T) {
	if err := ValidateFolderDeltaBody(make([]byte, MaxFolderDeltaBody+1)); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("expected ErrBodyTooLarge, got %v", err)
	}
	if err := ValidateFolderDeltaBody([]byte("{}")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRelayIdentity(t *testing.T) {
	if err := ValidateRelayIdentity(""); !errors.Is(err, ErrBodyEmpty) {
		t.Errorf("expected ErrBodyEmpty, got %v", err)
	}
	long := make([]byte, MaxRelayIdentity+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateRelayIdentity(string(long)); !errors.Is(err, ErrIdentityTooLarge) {
		t.Errorf("expected ErrIdentityTooLarge, got %v", err)
	}
	if err := ValidateRelayIdentity("alice.shinkai"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConstantOrdering(t *testing.T) {
	if MaxFolderDeltaBody >= MaxMessageBody {
		t.Errorf("MaxFolderDeltaBody (%d) should be < MaxMessageBody (%d)", MaxFolderDeltaBody, MaxMessageBody)
	}
	if MaxRelayIdentity >= MaxMessageBody {
		t.Errorf("MaxRelayIdentity (%d) should be well under MaxMessageBody (%d)", MaxRelayIdentity, MaxMessageBody)
	}
}
