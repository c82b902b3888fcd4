package tunnel

import (
	"testing"
	"time"

	"vpncircuit/internal/circuit"

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

func testHop(t *testing.T) circuit.Hop {
	t.Helper()
	return circuit.Hop{
		ID:         "hop-1",
		PrivateKey: testKey(t),
		PublicKey:  testKey(t),
		Endpoint:   "203.0.113.10:51820",
		Address:    "10.8.0.2/32",
		AllowedIPs: []string{"0.0.0.0/0"},
		Raw:        "raw",
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func TestDeviceConfigBuildsSinglePeer(t *testing.T) {
	hop := testHop(t)
	hop.PresharedKey = testKey(t)
	hop.ListenPort = 51821

	cfg, err := deviceConfig(hop)
	if err != nil {
		t.Fatalf("device config: %v", err)
	}
	if cfg.PrivateKey == nil || !cfg.ReplacePeers {
		t.Fatalf("private key and peer replacement are mandatory")
	}
	if len(cfg.Peers) != 1 {
		t.Fatalf("expected exactly one peer, got %d", len(cfg.Peers))
	}
	peer := cfg.Peers[0]
	if peer.Endpoint == nil || peer.Endpoint.Port != 51820 {
		t.Fatalf("peer endpoint not resolved: %+v", peer.Endpoint)
	}
	if peer.PresharedKey == nil {
		t.Fatalf("preshared key dropped")
	}
	if len(peer.AllowedIPs) != 1 {
		t.Fatalf("allowed IPs dropped")
	}
	if cfg.ListenPort == nil || *cfg.ListenPort != 51821 {
		t.Fatalf("listen port dropped")
	}
}

func TestDeviceConfigRejectsBadFields(t *testing.T) {
	hop := testHop(t)
	hop.PrivateKey = "nope"
	if _, err := deviceConfig(hop); err == nil {
		t.Fatalf("expected error for bad private key")
	}

	hop = testHop(t)
	hop.AllowedIPs = []string{"not-a-cidr"}
	if _, err := deviceConfig(hop); err == nil {
		t.Fatalf("expected error for bad allowed range")
	}
}

func TestIfnamePadsToKernelWidth(t *testing.T) {
	b := ifname("cvpn0")
	if len(b) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(b))
	}
	if string(b[:5]) != "cvpn0" || b[5] != 0 {
		t.Fatalf("name not null-terminated: %v", b)
	}
}

func TestKillSwitchAllowedAddrsDeduplicates(t *testing.T) {
	k := NewKillSwitch([]string{"203.0.113.1:8000", "203.0.113.1:8001", "not-a-host..:1"})
	addrs := k.allowedAddrs("203.0.113.2:51820")

	if len(addrs) != 2 {
		t.Fatalf("expected 2 unique addresses, got %v", addrs)
	}
}
