package georoute

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// 边缘代理（Cloudflare / Caddy 的 visitor location headers）注入的请求元数据。
const (
	HeaderCountry   = "CF-IPCountry"
	HeaderContinent = "CF-IPContinent"
	HeaderCity      = "CF-IPCity"
	HeaderLatitude  = "CF-IPLatitude"
	HeaderLongitude = "CF-IPLongitude"
	HeaderTimezone  = "CF-Timezone"
)

var ErrInvalidGeo = errors.New("invalid geo metadata")

// Metadata 是未经校验的传输层元数据，字段缺失用 nil 表示（和“空字符串”区分开）。
type Metadata struct {
	Country   *string
	Continent *string
	City      *string
	Latitude  *string
	Longitude *string
	Timezone  *string
}

// GeoContext 校验通过后的国家声明，只在单个请求内有效。
type GeoContext struct {
	Country   string
	Continent string
	City      string
	Latitude  *float64
	Longitude *float64
	Timezone  string
}

// MetadataFromHeaders 只做提取，不做校验。
func MetadataFromHeaders(h http.Header) Metadata {
	return Metadata{
		Country:   headerValue(h, HeaderCountry),
		Continent: headerValue(h, HeaderContinent),
		City:      headerValue(h, HeaderCity),
		Latitude:  headerValue(h, HeaderLatitude),
		Longitude: headerValue(h, HeaderLongitude),
		Timezone:  headerValue(h, HeaderTimezone),
	}
}

func headerValue(h http.Header, key string) *string {
	vs, ok := h[http.CanonicalHeaderKey(key)]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}

// ValidateGeo 按固定 schema 校验元数据：
// - country 必填，恰好两个 [A-Z0-9] 字符（ISO 3166-1 alpha-2，外加边缘保留的 XX / T1），大小写敏感
// - latitude / longitude 可选，出现了就必须是合法范围内的数字
//
// 任何违规都返回 ErrInvalidGeo，调用方映射成 400，不会用默认国家兜底。
func ValidateGeo(md Metadata) (GeoContext, error) {
	if md.Country == nil {
		return GeoContext{}, errors.Join(ErrInvalidGeo, errors.New("country is missing"))
	}
	country := *md.Country
	if !isCountryCode(country) {
		return GeoContext{}, errors.Join(ErrInvalidGeo, errors.New("country is malformed"))
	}

	geo := GeoContext{Country: country}
	if md.Continent != nil {
		geo.Continent = strings.TrimSpace(*md.Continent)
	}
	if md.City != nil {
		geo.City = strings.TrimSpace(*md.City)
	}
	if md.Timezone != nil {
		geo.Timezone = strings.TrimSpace(*md.Timezone)
	}

	lat, err := parseCoordinate(md.Latitude, 90)
	if err != nil {
		return GeoContext{}, errors.Join(ErrInvalidGeo, errors.New("latitude: "+err.Error()))
	}
	lon, err := parseCoordinate(md.Longitude, 180)
	if err != nil {
		return GeoContext{}, errors.Join(ErrInvalidGeo, errors.New("longitude: "+err.Error()))
	}
	geo.Latitude, geo.Longitude = lat, lon
	return geo, nil
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func parseCoordinate(raw *string, limit float64) (*float64, error) {
	if raw == nil {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil {
		return nil, errors.New("not a number")
	}
	if v < -limit || v > limit {
		return nil, errors.New("out of range")
	}
	return &v, nil
}
