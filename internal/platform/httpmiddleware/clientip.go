package httpmiddleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// 直连对端落在这些网段时才认为是边缘代理（同机 Caddy、docker bridge、内网 LB）。
var trustedProxyPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
}

// 按优先级：Cloudflare 注入的真实 IP > XFF 第一跳 > X-Real-IP。
var clientIPHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"}

// ClientIP 返回限流用的客户端 IP。
// 转发头只在请求来自可信代理时才读，否则直接用 RemoteAddr，避免伪造 XFF 绕过限流。
func ClientIP(req *http.Request) string {
	peer := peerAddr(req)
	if !isTrustedPeer(peer) {
		return peerHost(req)
	}
	for _, h := range clientIPHeaders {
		v := req.Header.Get(h)
		if first, _, ok := strings.Cut(v, ","); ok {
			v = first
		}
		if addr, err := netip.ParseAddr(strings.TrimSpace(v)); err == nil {
			return addr.String()
		}
	}
	return peerHost(req)
}

// FromTrustedProxy 直连对端是否为可信代理。CF-IPCountry 等地理头和转发头同一个信任规则。
func FromTrustedProxy(req *http.Request) bool {
	return isTrustedPeer(peerAddr(req))
}

func isTrustedPeer(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trustedProxyPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerHost(req *http.Request) string {
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

func peerAddr(req *http.Request) netip.Addr {
	addr, _ := netip.ParseAddr(peerHost(req))
	return addr
}
