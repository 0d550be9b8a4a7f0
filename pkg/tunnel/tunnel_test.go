package tunnel

import "testing"

func TestParsePublicURL(t *testing.T) {
	body := []byte(`{"tunnels":[{"public_url":"https://abc123.ngrok.io","proto":"https"}]}`)
	got, err := parsePublicURL(body)
	if err != nil {
		t.Fatalf("parsePublicURL: %v", err)
	}
	if got != "https://abc123.ngrok.io" {
		t.Fatalf("url = %q", got)
	}
}

func TestParsePublicURLSkipsEmptyEntries(t *testing.T) {
	body := []byte(`{"tunnels":[{"public_url":""},{"public_url":"https://xyz.ngrok.io"}]}`)
	got, err := parsePublicURL(body)
	if err != nil {
		t.Fatalf("parsePublicURL: %v", err)
	}
	if got != "https://xyz.ngrok.io" {
		t.Fatalf("url = %q", got)
	}
}

func TestParsePublicURLNoTunnelsYet(t *testing.T) {
	if _, err := parsePublicURL([]byte(`{"tunnels":[]}`)); err == nil {
		t.Fatal("expected error while agent has no tunnels")
	}
	if _, err := parsePublicURL([]byte(`not-json`)); err == nil {
		t.Fatal("expected error on malformed response")
	}
}

func TestListenPort(t *testing.T) {
	if got := listenPort("127.0.0.1:5000"); got != "5000" {
		t.Fatalf("port = %q", got)
	}
	if got := listenPort(":8080"); got != "8080" {
		t.Fatalf("port = %q", got)
	}
	if got := listenPort("no-port"); got != "" {
		t.Fatalf("port = %q, want empty", got)
	}
}
