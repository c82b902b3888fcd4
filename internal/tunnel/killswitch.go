package tunnel

import (
	"fmt"
	"net"

	"vpncircuit/internal/logging"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	ksTableName = "vpncircuit"
	ksChainName = "egress"
)

// KillSwitch installs an output-hook nftables rule set that only lets
// traffic leave through loopback, the tunnel interface, or directly to a
// validator or tunnel endpoint. Everything else is dropped while a route
// is supposed to be up.
type KillSwitch struct {
	validators []string // host:port
	log        zerolog.Logger
}

func NewKillSwitch(validators []string) *KillSwitch {
	return &KillSwitch{
		validators: validators,
		log:        logging.Component("killswitch"),
	}
}

// Enable replaces any previous rule set with one scoped to the given
// tunnel interface and peer endpoint.
func (k *KillSwitch) Enable(iface, peerEndpoint string) error {
	if err := k.Disable(); err != nil {
		return err
	}

	conn := &nftables.Conn{}

	table := conn.AddTable(&nftables.Table{
		Name:   ksTableName,
		Family: nftables.TableFamilyINet,
	})

	policy := nftables.ChainPolicyDrop
	chain := conn.AddChain(&nftables.Chain{
		Name:     ksChainName,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})

	conn.AddRule(acceptInterfaceRule(table, chain, "lo"))
	conn.AddRule(acceptInterfaceRule(table, chain, iface))

	for _, ip := range k.allowedAddrs(peerEndpoint) {
		conn.AddRule(acceptDestinationRule(table, chain, ip))
	}

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nftables flush: %w", err)
	}
	k.log.Info().Str("iface", iface).Msg("kill switch armed")
	return nil
}

// Disable removes the rule set. A missing table is success.
func (k *KillSwitch) Disable() error {
	conn := &nftables.Conn{}

	tables, err := conn.ListTables()
	if err != nil {
		return fmt.Errorf("nftables list tables: %w", err)
	}
	removed := false
	for _, table := range tables {
		if table.Name == ksTableName && table.Family == nftables.TableFamilyINet {
			conn.DelTable(table)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nftables flush: %w", err)
	}
	k.log.Info().Msg("kill switch disarmed")
	return nil
}

// allowedAddrs resolves the validator hosts plus the active peer endpoint
// to IPv4 addresses. Unresolvable hosts are skipped, not fatal: the rule
// set must still come up to protect the remaining traffic.
func (k *KillSwitch) allowedAddrs(peerEndpoint string) []net.IP {
	hosts := make([]string, 0, len(k.validators)+1)
	hosts = append(hosts, k.validators...)
	if peerEndpoint != "" {
		hosts = append(hosts, peerEndpoint)
	}

	seen := make(map[string]struct{})
	var out []net.IP
	for _, hostPort := range hosts {
		host, _, err := net.SplitHostPort(hostPort)
		if err != nil {
			host = hostPort
		}
		ips, err := net.LookupIP(host)
		if err != nil {
			k.log.Warn().Str("host", host).Err(err).Msg("kill switch: host not resolvable")
			continue
		}
		for _, ip := range ips {
			v4 := ip.To4()
			if v4 == nil {
				continue
			}
			if _, dup := seen[v4.String()]; dup {
				continue
			}
			seen[v4.String()] = struct{}{}
			out = append(out, v4)
		}
	}
	return out
}

func acceptInterfaceRule(table *nftables.Table, chain *nftables.Chain, iface string) *nftables.Rule {
	return &nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(iface)},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	}
}

func acceptDestinationRule(table *nftables.Table, chain *nftables.Chain, ip net.IP) *nftables.Rule {
	return &nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.NFPROTO_IPV4}},
			&expr.Payload{
				DestRegister: 1,
				Base:         expr.PayloadBaseNetworkHeader,
				Offset:       16, // IPv4 destination address
				Len:          4,
			},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ip.To4()},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	}
}

func ifname(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}
