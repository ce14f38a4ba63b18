package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"geolink.local/internal/app/evaluation"
	"geolink.local/internal/app/georoute"
)

const maxRedirects = 5

var errTooManyRedirects = errors.New("too many redirects")

// HTTPChecker 用 HEAD 探测目的地，服务端不支持 HEAD 时退回 GET。
//
// 分类：
// - 2xx / 3xx：healthy；跳转超过 maxRedirects 次：unhealthy
// - 408 / 425 / 429 / 502 / 503 / 504：transient（可能是瞬时过载）
// - 其它 4xx / 5xx、证书错误：unhealthy
// - NXDOMAIN、连接被拒、网络不可达：unreachable
// - 解析到内网 / 回环 / 链路本地地址：fatal，不发请求
type HTTPChecker struct {
	client    *http.Client
	userAgent string
}

func NewHTTPChecker(userAgent string, opts ...Option) *HTTPChecker {
	o := buildOptions(opts)

	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	if !o.allowPrivate {
		dialer.Control = dialControl
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = dialer.DialContext
	// 不走环境变量里的代理，否则检查的是代理地址
	tr.Proxy = nil
	tr.MaxIdleConnsPerHost = 4
	tr.ResponseHeaderTimeout = 10 * time.Second
	tr.TLSHandshakeTimeout = 5 * time.Second

	return &HTTPChecker{
		client: &http.Client{
			Transport: otelhttp.NewTransport(tr),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

func (c *HTTPChecker) Check(ctx context.Context, destinationURL string) (evaluation.Verdict, error) {
	u, err := georoute.NormalizeURL(destinationURL)
	if err != nil {
		return evaluation.Verdict{}, evaluation.Fatal("invalid destination url", err)
	}

	resp, err := c.do(ctx, http.MethodHead, u)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		resp, err = c.do(ctx, http.MethodGet, u)
	}
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return classifyStatus(resp)
}

func (c *HTTPChecker) do(ctx context.Context, method, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, evaluation.Fatal("build request", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.client.Do(req)
}

func classifyStatus(resp *http.Response) (evaluation.Verdict, error) {
	code := resp.StatusCode
	detail := fmt.Sprintf("%d %s", code, http.StatusText(code))

	switch {
	case code >= 200 && code < 400:
		return evaluation.Verdict{Classification: evaluation.Healthy, StatusCode: code, Detail: detail}, nil
	case isRetryableStatus(code):
		return evaluation.Verdict{}, &evaluation.TransientError{
			Reason:     "upstream returned " + detail,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return evaluation.Verdict{Classification: evaluation.Unhealthy, StatusCode: code, Detail: detail}, nil
	}
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// 只认秒数形式；HTTP-date 形式忽略。
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func classifyTransportError(ctx context.Context, err error) (evaluation.Verdict, error) {
	if evaluation.IsFatal(err) {
		return evaluation.Verdict{}, err
	}
	if errors.Is(err, ErrBlockedAddress) {
		return evaluation.Verdict{}, blockedAddress(err)
	}
	if errors.Is(err, errTooManyRedirects) {
		return evaluation.Verdict{Classification: evaluation.Unhealthy, Detail: "too many redirects"}, nil
	}
	if ctx.Err() != nil {
		return evaluation.Verdict{}, evaluation.Transient("probe timed out", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return evaluation.Verdict{Classification: evaluation.Unreachable, Detail: "no such host"}, nil
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return evaluation.Verdict{Classification: evaluation.Unreachable, Detail: "connection refused"}, nil
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return evaluation.Verdict{Classification: evaluation.Unreachable, Detail: "no route to host"}, nil
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return evaluation.Verdict{Classification: evaluation.Unhealthy, Detail: "tls: " + certErr.Err.Error()}, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return evaluation.Verdict{}, evaluation.Transient("probe timed out", err)
	}
	return evaluation.Verdict{}, evaluation.Transient("request failed", err)
}
