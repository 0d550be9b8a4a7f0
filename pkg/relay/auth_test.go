package relay

import (
	"net/http"
	"testing"
)

func TestBearerTokenStrictPrefix(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"valid", "Bearer sk-abc123", "sk-abc123", true},
		{"wrong scheme", "Token abc", "", false},
		{"lowercase scheme", "bearer abc", "", false},
		{"missing header", "", "", false},
		{"prefix only", "Bearer ", "", true},
		{"no space", "Bearerabc", "", false},
		{"extra space kept verbatim", "Bearer  abc", " abc", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header != "" {
				h.Set("Authorization", tc.header)
			}
			got, ok := bearerToken(h)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Fatalf("token = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequestIsLoopback(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "http://example.test/debug/events", nil)
	r.RemoteAddr = "127.0.0.1:54321"
	if !requestIsLoopback(r) {
		t.Fatal("expected loopback request to be true")
	}
	r.RemoteAddr = "10.1.2.3:54321"
	if requestIsLoopback(r) {
		t.Fatal("expected non-loopback request to be false")
	}
}
