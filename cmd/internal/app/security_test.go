package app

import (
	"strings"
	"testing"

	"arcfeed/cmd/internal/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		require bool
		key     string
		wantErr string
	}{
		{name: "not required", require: false, key: ""},
		{name: "missing key", require: true, key: "", wantErr: "missing"},
		{name: "short key", require: true, key: "short", wantErr: "too short"},
		{name: "ok", require: true, key: strings.Repeat("k", token.MinHMACKeyBytes)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(token.HMACEnvKey, tc.key)

			err := ValidateSecurityConfig(Config{RequireTokenHMAC: tc.require})
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want substring %q", err, tc.wantErr)
			}
		})
	}
}
