package georoute

import (
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrInvalidURL    = errors.New("invalid url")
	ErrInvalidLinkID = errors.New("invalid link id")
)

// 链接 id 由外部的链接管理服务生成；这里只挡掉明显不可能存在的 path，省一次查询。
var linkIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var reservedIDs = map[string]struct{}{
	"api":     {},
	"healthz": {},
	"metrics": {},
	"readyz":  {},
}

func ValidateLinkID(id string) error {
	if !linkIDRe.MatchString(id) {
		return ErrInvalidLinkID
	}
	if _, ok := reservedIDs[strings.ToLower(id)]; ok {
		return ErrInvalidLinkID
	}
	return nil
}

// ValidateURL 只接受带 host 的 http/https 绝对地址。
func ValidateURL(raw string) error {
	_, err := NormalizeURL(raw)
	return err
}

// NormalizeURL 校验并把国际化域名转成 ASCII（punycode），探测和入库都用这个形式。
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 2048 {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	host := u.Hostname()
	if host == "" {
		return "", ErrInvalidURL
	}
	if net.ParseIP(host) != nil {
		u.Host = strings.ToLower(u.Host)
		return u.String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", ErrInvalidURL
	}
	ascii = strings.ToLower(ascii)
	if ascii != host {
		if port := u.Port(); port != "" {
			u.Host = ascii + ":" + port
		} else {
			u.Host = ascii
		}
	}
	return u.String(), nil
}
