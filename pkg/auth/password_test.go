package auth

import "testing"

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("Str0ngPassw0rd")
	if err != nil {
		t.Fatalf("HashPassword() = %v, want nil", err)
	}

	if err := ComparePassword(hash, "Str0ngPassw0rd"); err != nil {
		t.Errorf("ComparePassword() with correct password = %v, want nil", err)
	}

	if err := ComparePassword(hash, "WrongPassw0rd"); err == nil {
		t.Error("ComparePassword() with wrong password = nil, want error")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Str0ngPassw0rd", false},
		{"too short", "Ab1", true},
		{"common", "password123", true},
		{"no digits", "OnlyLettersHere", true},
		{"no upper", "onlylower123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePassword_GenericErrorMessage(t *testing.T) {
	err := ValidatePassword("weak")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if err.Error() != "invalid password" {
		t.Errorf("error message leaks requirements: %q", err.Error())
	}
}
