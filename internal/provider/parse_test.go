package provider

import (
	"strings"
	"testing"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func testKey(t *testing.T) string {
	t.Helper()
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return k.String()
}

func TestParsePeerConfigFull(t *testing.T) {
	priv, pub, psk := testKey(t), testKey(t), testKey(t)
	raw := "[Interface]\n" +
		"PrivateKey = " + priv + "\n" +
		"Address = 10.8.0.2/32\n" +
		"DNS = 1.1.1.1\n" +
		"ListenPort = 51820\n" +
		"\n" +
		"[Peer]\n" +
		"PublicKey = " + pub + "\n" +
		"PresharedKey = " + psk + "\n" +
		"AllowedIPs = 0.0.0.0/0, ::/0\n" +
		"Endpoint = 203.0.113.10:51820\n"

	hop, err := parsePeerConfig(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hop.PrivateKey != priv || hop.PublicKey != pub || hop.PresharedKey != psk {
		t.Fatalf("key fields mismatch")
	}
	if hop.Address != "10.8.0.2/32" || hop.DNS != "1.1.1.1" || hop.ListenPort != 51820 {
		t.Fatalf("interface fields mismatch: %+v", hop)
	}
	if hop.Endpoint != "203.0.113.10:51820" {
		t.Fatalf("endpoint mismatch: %s", hop.Endpoint)
	}
	if len(hop.AllowedIPs) != 2 {
		t.Fatalf("expected 2 allowed ranges, got %v", hop.AllowedIPs)
	}
	if hop.Raw != raw {
		t.Fatalf("raw form must be preserved verbatim")
	}
}

func TestParsePeerConfigOptionalFieldsMayBeMissing(t *testing.T) {
	raw := "[Interface]\n" +
		"PrivateKey = " + testKey(t) + "\n" +
		"[Peer]\n" +
		"PublicKey = " + testKey(t) + "\n" +
		"Endpoint = vpn.example.org:51820\n"

	hop, err := parsePeerConfig(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hop.Address != "" || hop.DNS != "" {
		t.Fatalf("optional fields should stay empty")
	}
	if len(hop.AllowedIPs) != 1 || hop.AllowedIPs[0] != "0.0.0.0/0" {
		t.Fatalf("expected default allowed range, got %v", hop.AllowedIPs)
	}
}

func TestParsePeerConfigRejectsBadInput(t *testing.T) {
	priv, pub := testKey(t), testKey(t)

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "   \n", "empty peer config"},
		{"missing private key", "[Interface]\n[Peer]\nPublicKey = " + pub + "\nEndpoint = h:1\n", "private key is required"},
		{"invalid private key", "[Interface]\nPrivateKey = nope\n[Peer]\nPublicKey = " + pub + "\nEndpoint = h:1\n", "private key is invalid"},
		{"missing endpoint", "[Interface]\nPrivateKey = " + priv + "\n[Peer]\nPublicKey = " + pub + "\n", "endpoint is required"},
		{"bare endpoint", "[Interface]\nPrivateKey = " + priv + "\n[Peer]\nPublicKey = " + pub + "\nEndpoint = hostonly\n", "endpoint must be host:port"},
		{"garbage line", "[Interface]\nPrivateKey " + priv + "\n", "expected key = value"},
	}
	for _, tc := range cases {
		_, err := parsePeerConfig(tc.raw)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want substring %q", tc.name, err, tc.want)
		}
	}
}

func TestParsePeerConfigIgnoresCommentsAndCase(t *testing.T) {
	raw := "# issued by validator\n" +
		"[INTERFACE]\n" +
		"privatekey = " + testKey(t) + "\n" +
		"; note\n" +
		"[peer]\n" +
		"PUBLICKEY = " + testKey(t) + "\n" +
		"endpoint = 10.1.1.1:51820\n"

	if _, err := parsePeerConfig(raw); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
}
