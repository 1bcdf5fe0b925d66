package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/dalbodeule/hop-gate/internal/overlay"
)

// DNSResolver resolves a NodeId by querying a TXT record at
// "<node_id>.<origin>" against a configured resolver, for the
// --discovery dns / --discovery hybrid CLI modes (§6).
type DNSResolver struct {
	Origin       string // e.g. "nodes.example.com"
	ResolverAddr string // e.g. "1.1.1.1:53"
	Timeout      time.Duration
}

// NewDNSResolver constructs a DNSResolver. timeout of zero defaults to 3s,
// matching the node discovery timeout used for ticket fetches in the
// original implementation.
func NewDNSResolver(origin, resolverAddr string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSResolver{Origin: origin, ResolverAddr: resolverAddr, Timeout: timeout}
}

func (d *DNSResolver) Resolve(ctx context.Context, id overlay.NodeId) (overlay.ConnectionDetails, error) {
	if d.Origin == "" || d.ResolverAddr == "" {
		return overlay.ConnectionDetails{}, fmt.Errorf("discovery: dns resolver not configured")
	}

	fqdn := dns.Fqdn(fmt.Sprintf("%s.%s", id.String(), d.Origin))

	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: d.Timeout}

	deadline := time.Now().Add(d.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	client.Timeout = time.Until(deadline)

	resp, _, err := client.ExchangeContext(ctx, msg, d.ResolverAddr)
	if err != nil {
		return overlay.ConnectionDetails{}, fmt.Errorf("discovery: dns query for %s: %w", fqdn, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return overlay.ConnectionDetails{}, fmt.Errorf("discovery: dns rcode %s for %s", dns.RcodeToString[resp.Rcode], fqdn)
	}

	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		details := parseTXTRecord(strings.Join(txt.Txt, ""))
		if len(details.DirectAddrs) > 0 || details.HomeRelay != "" {
			return details, nil
		}
	}

	return overlay.ConnectionDetails{}, fmt.Errorf("discovery: no usable TXT record for %s", fqdn)
}
