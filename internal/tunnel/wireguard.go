package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/logging"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const persistentKeepalive = 25 * time.Second

// WireGuard drives the kernel WireGuard implementation through wgctrl and
// netlink. All interfaces it creates carry the configured name prefix so
// CleanupAll can find them even after a crash.
type WireGuard struct {
	prefix     string
	killSwitch *KillSwitch
	log        zerolog.Logger
}

func NewWireGuard(prefix string, ks *KillSwitch) *WireGuard {
	return &WireGuard{
		prefix:     prefix,
		killSwitch: ks,
		log:        logging.Component("tunnel"),
	}
}

func (w *WireGuard) iface() string {
	return w.prefix + "0"
}

// Installed reports whether a WireGuard control socket can be opened.
func (w *WireGuard) Installed() bool {
	client, err := wgctrl.New()
	if err != nil {
		return false
	}
	client.Close()
	return true
}

// Activate creates (or reuses) the tunnel interface and points it at the
// hop's peer. Any failure is wrapped in ErrActivationFailed; the caller is
// expected to follow up with CleanupAll.
func (w *WireGuard) Activate(ctx context.Context, hop circuit.Hop) error {
	if !w.Installed() {
		return ErrNotInstalled
	}
	if err := w.activate(hop); err != nil {
		return fmt.Errorf("%w: %v", ErrActivationFailed, err)
	}
	w.log.Info().
		Str("iface", w.iface()).
		Str("peer", hop.Endpoint).
		Str("country", hop.Country).
		Msg("tunnel up")
	return nil
}

func (w *WireGuard) activate(hop circuit.Hop) error {
	name := w.iface()

	link, err := ensureWireGuardLink(name)
	if err != nil {
		return err
	}

	if hop.Address != "" {
		if err := setInterfaceAddress(link, hop.Address); err != nil {
			return err
		}
	}

	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("wgctrl init: %w", err)
	}
	defer client.Close()

	wgCfg, err := deviceConfig(hop)
	if err != nil {
		return err
	}
	if err := client.ConfigureDevice(name, wgCfg); err != nil {
		return fmt.Errorf("configure device: %w", err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("link set up: %w", err)
	}

	if err := ensureRoutes(link, hop.AllowedIPs); err != nil {
		return err
	}

	if hop.DNS != "" {
		// DNS override stays in the raw config for resolver integrations;
		// the kernel interface itself has no notion of it.
		w.log.Debug().Str("dns", hop.DNS).Msg("hop carries a DNS override")
	}

	if w.killSwitch != nil {
		if err := w.killSwitch.Enable(name, hop.Endpoint); err != nil {
			return fmt.Errorf("kill switch: %w", err)
		}
	}
	return nil
}

// Deactivate removes the tunnel interface. A missing interface is success.
func (w *WireGuard) Deactivate(ctx context.Context) error {
	if w.killSwitch != nil {
		if err := w.killSwitch.Disable(); err != nil {
			w.log.Warn().Err(err).Msg("kill switch teardown failed")
		}
	}

	link, err := netlink.LinkByName(w.iface())
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("link lookup: %w", err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("link delete: %w", err)
	}
	w.log.Info().Str("iface", w.iface()).Msg("tunnel down")
	return nil
}

// Active reports whether the tunnel interface exists and has a configured
// peer, matching what the kernel believes rather than internal state.
func (w *WireGuard) Active() (bool, error) {
	_, err := netlink.LinkByName(w.iface())
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("link lookup: %w", err)
	}

	client, err := wgctrl.New()
	if err != nil {
		return false, fmt.Errorf("wgctrl init: %w", err)
	}
	defer client.Close()

	dev, err := client.Device(w.iface())
	if err != nil {
		return false, fmt.Errorf("wg device: %w", err)
	}
	return len(dev.Peers) > 0, nil
}

// CleanupAll force-deletes every WireGuard link carrying the prefix and
// tears the kill switch down. Used defensively; never fails on absence.
func (w *WireGuard) CleanupAll(ctx context.Context) error {
	var errs []error

	if w.killSwitch != nil {
		if err := w.killSwitch.Disable(); err != nil {
			errs = append(errs, fmt.Errorf("kill switch: %w", err))
		}
	}

	links, err := netlink.LinkList()
	if err != nil {
		errs = append(errs, fmt.Errorf("link list: %w", err))
		return errors.Join(errs...)
	}
	for _, link := range links {
		if link.Type() != "wireguard" {
			continue
		}
		if !strings.HasPrefix(link.Attrs().Name, w.prefix) {
			continue
		}
		if err := netlink.LinkDel(link); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", link.Attrs().Name, err))
			continue
		}
		w.log.Info().Str("iface", link.Attrs().Name).Msg("stale tunnel removed")
	}
	return errors.Join(errs...)
}

func ensureWireGuardLink(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err == nil {
		if link.Type() != "wireguard" {
			return nil, fmt.Errorf("link %s exists but is not wireguard", name)
		}
		return link, nil
	}

	var notFound netlink.LinkNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("link lookup: %w", err)
	}

	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	wgLink := &netlink.Wireguard{LinkAttrs: attrs}
	if err := netlink.LinkAdd(wgLink); err != nil {
		return nil, fmt.Errorf("link add: %w", err)
	}
	return wgLink, nil
}

func setInterfaceAddress(link netlink.Link, address string) error {
	addr, err := netlink.ParseAddr(address)
	if err != nil {
		return fmt.Errorf("parse address %s: %w", address, err)
	}

	existing, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("list addresses: %w", err)
	}
	for _, old := range existing {
		if err := netlink.AddrDel(link, &old); err != nil {
			return fmt.Errorf("delete address: %w", err)
		}
	}

	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("add address %s: %w", address, err)
	}
	return nil
}

func ensureRoutes(link netlink.Link, allowed []string) error {
	for i, cidr := range allowed {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("route[%d] parse: %w", i, err)
		}
		route := netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       ipNet,
		}
		if err := netlink.RouteReplace(&route); err != nil {
			if errors.Is(err, syscall.EEXIST) {
				continue
			}
			return fmt.Errorf("route[%d] add: %w", i, err)
		}
	}
	return nil
}

func deviceConfig(hop circuit.Hop) (wgtypes.Config, error) {
	privKey, err := wgtypes.ParseKey(hop.PrivateKey)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("parse private key: %w", err)
	}
	pubKey, err := wgtypes.ParseKey(hop.PublicKey)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("parse peer public key: %w", err)
	}
	endpoint, err := net.ResolveUDPAddr("udp", hop.Endpoint)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("parse endpoint: %w", err)
	}

	allowed := make([]net.IPNet, 0, len(hop.AllowedIPs))
	for i, cidr := range hop.AllowedIPs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("allowed_ips[%d]: %w", i, err)
		}
		allowed = append(allowed, *ipNet)
	}

	keepalive := persistentKeepalive
	peer := wgtypes.PeerConfig{
		PublicKey:                   pubKey,
		Endpoint:                    endpoint,
		AllowedIPs:                  allowed,
		ReplaceAllowedIPs:           true,
		PersistentKeepaliveInterval: &keepalive,
	}
	if hop.PresharedKey != "" {
		psk, err := wgtypes.ParseKey(hop.PresharedKey)
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("parse preshared key: %w", err)
		}
		peer.PresharedKey = &psk
	}

	cfg := wgtypes.Config{
		PrivateKey:   &privKey,
		ReplacePeers: true,
		Peers:        []wgtypes.PeerConfig{peer},
	}
	if hop.ListenPort > 0 {
		port := hop.ListenPort
		cfg.ListenPort = &port
	}
	return cfg, nil
}
