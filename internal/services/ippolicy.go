package services

import (
	"net/netip"

	"github.com/BradenHooton/gatehouse/internal/models"
)

// IPPolicy evaluates an address against the configured whitelist and
// blacklist. It is a pure function of the configuration it was built from:
// the entry lists are parsed once at construction and the evaluation itself
// never touches storage, so instances are safe for concurrent use and are
// rebuilt whenever the configuration is saved.
type IPPolicy struct {
	whitelist []netip.Prefix
	blacklist []netip.Prefix
}

// NewIPPolicy parses the address lists from the configuration. Entries that
// do not parse as an address or CIDR range are skipped; Save-time
// validation already rejects them, so this only guards hand-edited rows.
func NewIPPolicy(cfg *models.SecurityConfig) *IPPolicy {
	return &IPPolicy{
		whitelist: parseEntries(cfg.Whitelist),
		blacklist: parseEntries(cfg.Blacklist),
	}
}

// Evaluate returns the verdict for an address. Whitelisted is checked first
// and wins outright; the blacklist is consulted only for addresses not on
// the whitelist. Unparsable addresses are unlisted.
func (p *IPPolicy) Evaluate(address string) models.PolicyVerdict {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return models.PolicyUnlisted
	}
	addr = addr.Unmap()

	if containsAddr(p.whitelist, addr) {
		return models.PolicyWhitelisted
	}
	if containsAddr(p.blacklist, addr) {
		return models.PolicyBlacklisted
	}
	return models.PolicyUnlisted
}

func parseEntries(entries []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
		}
	}
	return prefixes
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
