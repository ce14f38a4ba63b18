package probe

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"time"

	"github.com/miekg/dns"

	"geolink.local/internal/app/evaluation"
	"geolink.local/internal/app/georoute"
)

// DNSChecker 先确认域名能解析出地址。NXDOMAIN 直接判 unreachable，省一次 HTTP 探测。
// 解析出内网地址时直接 fatal。
type DNSChecker struct {
	client       *dns.Client
	servers      []string
	allowPrivate bool
}

// NewDNSChecker servers 为空时读 /etc/resolv.conf。
func NewDNSChecker(servers []string, timeout time.Duration, opts ...Option) *DNSChecker {
	o := buildOptions(opts)
	if len(servers) == 0 {
		servers = SystemResolvers()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DNSChecker{
		client:       &dns.Client{Net: "udp", Timeout: timeout},
		servers:      servers,
		allowPrivate: o.allowPrivate,
	}
}

func SystemResolvers() []string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"1.1.1.1:53"}
	}
	out := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, net.JoinHostPort(s, cfg.Port))
	}
	return out
}

func (c *DNSChecker) Check(ctx context.Context, destinationURL string) (evaluation.Verdict, error) {
	normalized, err := georoute.NormalizeURL(destinationURL)
	if err != nil {
		return evaluation.Verdict{}, evaluation.Fatal("invalid destination url", err)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return evaluation.Verdict{}, evaluation.Fatal("invalid destination url", err)
	}
	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		if err := c.checkAddrs([]netip.Addr{addr}); err != nil {
			return evaluation.Verdict{}, err
		}
		return evaluation.Verdict{Classification: evaluation.Healthy, Detail: "ip literal"}, nil
	}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := c.exchange(ctx, host, qtype)
		if err != nil {
			return evaluation.Verdict{}, evaluation.Transient("dns lookup failed", err)
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return evaluation.Verdict{Classification: evaluation.Unreachable, Detail: "nxdomain"}, nil
		default:
			return evaluation.Verdict{}, evaluation.Transient("dns "+dns.RcodeToString[resp.Rcode], nil)
		}
		if addrs := answerAddrs(resp); len(addrs) > 0 {
			if err := c.checkAddrs(addrs); err != nil {
				return evaluation.Verdict{}, err
			}
			return evaluation.Verdict{Classification: evaluation.Healthy, Detail: "resolved"}, nil
		}
	}
	return evaluation.Verdict{Classification: evaluation.Unreachable, Detail: "no address records"}, nil
}

// exchange 依次尝试每个 server，返回第一个有应答的结果。
func (c *DNSChecker) exchange(ctx context.Context, host string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range c.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := c.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Truncated {
			tcp := &dns.Client{Net: "tcp", Timeout: c.client.Timeout}
			if full, _, err := tcp.ExchangeContext(ctx, m, server); err == nil {
				resp = full
			}
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no dns servers configured")
	}
	return nil, lastErr
}

// checkAddrs 只要有一个地址不是公网就拒绝。
func (c *DNSChecker) checkAddrs(addrs []netip.Addr) error {
	if c.allowPrivate {
		return nil
	}
	for _, a := range addrs {
		if !IsPublicAddr(a) {
			return blockedAddress(ErrBlockedAddress)
		}
	}
	return nil
}

func answerAddrs(m *dns.Msg) []netip.Addr {
	var out []netip.Addr
	for _, rr := range m.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if a, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, a.Unmap())
		}
	}
	return out
}
