package probe

import (
	"errors"
	"net"
	"net/netip"
	"syscall"

	"geolink.local/internal/app/evaluation"
)

// ErrBlockedAddress 目的地落在内网、回环、链路本地等地址上，拒绝探测。
var ErrBlockedAddress = errors.New("destination resolves to a non-public address")

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// Option 调整 checker 的网络策略。
type Option func(*options)

type options struct {
	allowPrivate bool
}

// AllowPrivateNetworks 放开内网地址，只给本地联调和测试用。
func AllowPrivateNetworks() Option {
	return func(o *options) { o.allowPrivate = true }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IsPublicAddr 判断地址是否可以被探测。
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	if addr.Is4() && addr.As4() == [4]byte{255, 255, 255, 255} {
		return false
	}
	return true
}

// dialControl 在建连之前检查已经解析好的对端地址，DNS rebinding 也绕不过去。
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return ErrBlockedAddress
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !IsPublicAddr(addr) {
		return ErrBlockedAddress
	}
	return nil
}

func blockedAddress(err error) error {
	return evaluation.Fatal("destination address not allowed", err)
}
