// Package seeds discovers boot nodes from DNS TXT records. A seed domain
// publishes one record per node:
//
//	in3seed=<address>@<url>[;props=<mask>]
//
// Records are looked up at _in3seed.<domain> unless the domain already
// carries the prefix.
package seeds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/miekg/dns"
)

const (
	recordPrefix        = "in3seed="
	defaultLookupPrefix = "_in3seed."
	defaultTimeout      = 5 * time.Second
)

// Seed is a boot node announced over DNS.
type Seed struct {
	Address common.Address
	URL     string
	// Props is zero when the record does not announce capabilities.
	Props  uint64
	Source string
}

// Resolver looks up TXT records.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// LookupName returns the record name queried for domain.
func LookupName(domain string) string {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if strings.HasPrefix(domain, defaultLookupPrefix) {
		return domain
	}
	return defaultLookupPrefix + domain
}

// Resolve fetches the seeds of domain. Malformed records are reported in the
// returned error while the valid ones are still returned.
func Resolve(ctx context.Context, domain string, resolver Resolver) ([]Seed, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, errors.New("seed domain must not be empty")
	}
	if resolver == nil {
		resolver = DefaultResolver()
	}
	name := LookupName(domain)
	records, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("dns %s lookup failed: %w", name, err)
	}
	seeds := make([]Seed, 0, len(records))
	seen := make(map[common.Address]struct{}, len(records))
	var errs []error
	for _, record := range records {
		seed, err := ParseRecord(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("dns %s invalid record: %w", name, err))
			continue
		}
		if _, dup := seen[seed.Address]; dup {
			continue
		}
		seen[seed.Address] = struct{}{}
		seed.Source = "dns:" + name
		seeds = append(seeds, seed)
	}
	return seeds, errors.Join(errs...)
}

// ParseRecord decodes one TXT record.
func ParseRecord(record string) (Seed, error) {
	trimmed := strings.TrimSpace(record)
	if !strings.HasPrefix(trimmed, recordPrefix) {
		return Seed{}, fmt.Errorf("record missing prefix %q", recordPrefix)
	}
	body, opts, _ := strings.Cut(strings.TrimPrefix(trimmed, recordPrefix), ";")
	addr, rawURL, ok := strings.Cut(body, "@")
	if !ok {
		return Seed{}, errors.New("record must be <address>@<url>")
	}
	if !common.IsHexAddress(addr) {
		return Seed{}, fmt.Errorf("invalid address %q", addr)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Seed{}, fmt.Errorf("invalid url %q", rawURL)
	}
	seed := Seed{Address: common.HexToAddress(addr), URL: rawURL}
	for _, opt := range strings.Split(opts, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(opt), "=")
		if !found || key != "props" {
			continue
		}
		props, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return Seed{}, fmt.Errorf("invalid props %q", value)
		}
		seed.Props = props
	}
	return seed, nil
}

// Format renders a seed as a TXT record.
func Format(s Seed) string {
	out := recordPrefix + strings.ToLower(s.Address.Hex()) + "@" + s.URL
	if s.Props != 0 {
		out += ";props=0x" + strconv.FormatUint(s.Props, 16)
	}
	return out
}

type netResolver struct {
	resolver *net.Resolver
}

func (n *netResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return n.resolver.LookupTXT(ctx, name)
}

// DefaultResolver uses the system resolver.
func DefaultResolver() Resolver {
	return &netResolver{resolver: net.DefaultResolver}
}

// DNSResolver queries one name server directly, bypassing the system
// resolver configuration.
type DNSResolver struct {
	Server string
	Net    string
	client *dns.Client
}

// NewDNSResolver returns a resolver for server (host:port). network is "udp"
// or "tcp"; empty means udp.
func NewDNSResolver(server, network string) *DNSResolver {
	return &DNSResolver{
		Server: server,
		Net:    network,
		client: &dns.Client{Net: network, Timeout: defaultTimeout},
	}
}

// LookupTXT implements Resolver.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.Server)
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns %s: %s", name, dns.RcodeToString[resp.Rcode])
	}
	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}
