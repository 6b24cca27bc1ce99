package validation

import "testing"

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid with prefix", "0xdAC17F958D2ee523a2206206994597C13D831ec7", false},
		{"valid without prefix", "dAC17F958D2ee523a2206206994597C13D831ec7", false},
		{"valid uppercase prefix", "0XdAC17F958D2ee523a2206206994597C13D831ec7", false},
		{"empty", "", true},
		{"too short", "0xdAC17F958D2ee523a22062069945", true},
		{"too long", "0xdAC17F958D2ee523a2206206994597C13D831ec7ff", true},
		{"non-hex characters", "0xzzC17F958D2ee523a2206206994597C13D831ec7", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAddress(tc.addr)
			if tc.wantErr && err == nil {
				t.Errorf("expected an error for %q", tc.addr)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error for %q: %v", tc.addr, err)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	got := NormalizeAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	want := "dac17f958d2ee523a2206206994597c13d831ec7"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestValidateAndNormalizeAddress(t *testing.T) {
	got, err := ValidateAndNormalizeAddress("0XdAC17F958D2ee523a2206206994597C13D831ec7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "dac17f958d2ee523a2206206994597c13d831ec7" {
		t.Errorf("unexpected normalized form %q", got)
	}
}
