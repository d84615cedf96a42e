package provision

import "testing"

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"example.xyz", "example.xyz", false},
		{"Example.COM", "example.com", false},
		{"example.com.", "example.com", false},
		{"shop.co.uk", "shop.co.uk", false},
		{"", "", true},
		{"localhost", "", true},
		{"www.example.com", "", true},    // subdomain
		{"co.uk", "", true},              // public suffix
		{"http://example.com", "", true}, // scheme
		{"example.com/path", "", true},
		{"example.com:8080", "", true},
		{"exa mple.com", "", true},
		{"-bad-.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ValidateDomain(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDomain(%q): got err=%v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateDomain(%q): got %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRoutePattern(t *testing.T) {
	if got := RoutePattern("example.xyz"); got != "example.xyz/*" {
		t.Errorf("RoutePattern: got %q", got)
	}
}
