package provider

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"vpncircuit/internal/circuit"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// parsePeerConfig turns the serialized tunnel configuration handed out by
// a validator into a typed hop. The format is a flat section file:
//
//	[Interface]
//	PrivateKey = <key>
//	Address    = <cidr>        (optional)
//	DNS        = <ip>          (optional)
//	ListenPort = <port>        (optional)
//	[Peer]
//	PublicKey    = <key>
//	PresharedKey = <key>       (optional)
//	AllowedIPs   = <cidr,...>  (optional, defaults to 0.0.0.0/0)
//	Endpoint     = <host:port>
//
// The raw text is preserved verbatim on the hop.
func parsePeerConfig(raw string) (circuit.Hop, error) {
	if strings.TrimSpace(raw) == "" {
		return circuit.Hop{}, errors.New("empty peer config")
	}

	hop := circuit.Hop{Raw: raw}
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(raw))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return circuit.Hop{}, fmt.Errorf("line %d: expected key = value", lineNo)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch section {
		case "interface":
			switch key {
			case "privatekey":
				hop.PrivateKey = value
			case "address":
				hop.Address = value
			case "dns":
				hop.DNS = value
			case "listenport":
				port, err := strconv.Atoi(value)
				if err != nil {
					return circuit.Hop{}, fmt.Errorf("line %d: listen port: %w", lineNo, err)
				}
				hop.ListenPort = port
			}
		case "peer":
			switch key {
			case "publickey":
				hop.PublicKey = value
			case "presharedkey":
				hop.PresharedKey = value
			case "allowedips":
				hop.AllowedIPs = splitCIDRList(value)
			case "endpoint":
				hop.Endpoint = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return circuit.Hop{}, fmt.Errorf("scan peer config: %w", err)
	}

	if len(hop.AllowedIPs) == 0 {
		hop.AllowedIPs = []string{"0.0.0.0/0"}
	}
	if err := validateHopFields(hop); err != nil {
		return circuit.Hop{}, err
	}
	return hop, nil
}

func validateHopFields(hop circuit.Hop) error {
	var errs []string

	if hop.PrivateKey == "" {
		errs = append(errs, "private key is required")
	} else if _, err := wgtypes.ParseKey(hop.PrivateKey); err != nil {
		errs = append(errs, "private key is invalid")
	}
	if hop.PublicKey == "" {
		errs = append(errs, "peer public key is required")
	} else if _, err := wgtypes.ParseKey(hop.PublicKey); err != nil {
		errs = append(errs, "peer public key is invalid")
	}
	if hop.PresharedKey != "" {
		if _, err := wgtypes.ParseKey(hop.PresharedKey); err != nil {
			errs = append(errs, "preshared key is invalid")
		}
	}
	if hop.Endpoint == "" {
		errs = append(errs, "endpoint is required")
	} else if _, _, err := net.SplitHostPort(hop.Endpoint); err != nil {
		errs = append(errs, "endpoint must be host:port")
	}
	if hop.Address != "" {
		if _, _, err := net.ParseCIDR(hop.Address); err != nil {
			errs = append(errs, "address must be CIDR")
		}
	}
	for i, cidr := range hop.AllowedIPs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Sprintf("allowed_ips[%d] must be CIDR", i))
		}
	}
	if hop.ListenPort < 0 || hop.ListenPort > 65535 {
		errs = append(errs, "listen port must be 0-65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("peer config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitCIDRList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
