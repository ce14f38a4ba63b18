package georoute

import "errors"

// ErrMissingDefault 表示存储里的目的地集合缺少默认地址（内部数据错误，不是客户端错误）。
var ErrMissingDefault = errors.New("destination set has no default")

// RoutingDestinationSet 是某条链接在一次解析内的不可变快照。
// ByCountry 的 key 约定为大写 ISO 3166-1 alpha-2，比较时大小写敏感。
type RoutingDestinationSet struct {
	LinkID    string            `json:"link_id"`
	Default   string            `json:"default"`
	ByCountry map[string]string `json:"by_country,omitempty"`
}

// Validate 只检查不变量：必须有默认地址。
func (s *RoutingDestinationSet) Validate() error {
	if s == nil || s.Default == "" {
		return ErrMissingDefault
	}
	return nil
}

// DestinationForCountry 精确匹配国家码，否则返回默认地址。
// 纯函数：任意字符串输入都有结果（包括空串、非两位的码）。
func DestinationForCountry(set RoutingDestinationSet, country string) string {
	if dest, ok := set.ByCountry[country]; ok {
		return dest
	}
	return set.Default
}
