//go:build linux

package ioloop

import (
	"context"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// dnsResolver wraps a miekg/dns client against the system's configured
// resolvers, falling back to net.DefaultResolver for "localhost" and
// literal IP addresses so the common loopback lookups need no network
// round trip.
type dnsResolver struct {
	client  *dns.Client
	servers []string
}

func newDNSResolver() *dnsResolver {
	r := &dnsResolver{client: new(dns.Client)}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil {
		for _, s := range cfg.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, cfg.Port))
		}
	}
	return r
}

func (r *dnsResolver) lookup(host string) ([][4]byte, error) {
	if strings.EqualFold(host, "localhost") {
		return [][4]byte{{127, 0, 0, 1}}, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return [][4]byte{{v4[0], v4[1], v4[2], v4[3]}}, nil
		}
	}

	if len(r.servers) == 0 {
		return r.lookupViaStdlib(host)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.Exchange(m, server)
		if err != nil {
			lastErr = err
			continue
		}
		var out [][4]byte
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				v4 := a.A.To4()
				if v4 != nil {
					out = append(out, [4]byte{v4[0], v4[1], v4[2], v4[3]})
				}
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return r.lookupViaStdlib(host)
}

func (r *dnsResolver) lookupViaStdlib(host string) ([][4]byte, error) {
	ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip4", host)
	if err != nil {
		return nil, err
	}
	out := make([][4]byte, 0, len(ips))
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 != nil {
			out = append(out, [4]byte{v4[0], v4[1], v4[2], v4[3]})
		}
	}
	return out, nil
}

// LookupIPSync resolves host on the calling thread. The direct lookupIP
// import is synchronous; only the reflect_apply-routed wasabi.lookup_ip
// goes through the worker.
func (l *Loop) LookupIPSync(host string) ([][4]byte, error) {
	return l.resolver.lookup(host)
}

// SubmitLookupIP resolves host on the single worker goroutine, delivering
// an Ips or Error response carrying id.
func (l *Loop) SubmitLookupIP(id int64, host string) {
	l.submit(func() Response {
		ips, err := l.resolver.lookup(host)
		if err != nil {
			return Response{Kind: KindError, ID: id, Msg: err.Error(), EKind: ErrorKindGeneric}
		}
		return Response{Kind: KindIps, ID: id, IPs: ips}
	})
}
