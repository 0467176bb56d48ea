package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/filez/internal/config"
	"github.com/rescale/filez/internal/constants"
)

// CreateTransferClient creates an HTTP client for uploads and downloads.
//
// It starts from ConfigureHTTPClient so transfers honour the same proxy
// settings as API calls, then removes the overall client timeout. Transfers
// are bounded by their context instead, so cancelling a task aborts its
// request.
//
// HTTP/2 is enabled unless DISABLE_HTTP2=true or a proxy is active. Set
// FORCE_HTTP2=true to keep HTTP/2 through a proxy.
func CreateTransferClient(cfg *config.Config) (*nethttp.Client, error) {
	baseClient, err := ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	baseClient.Timeout = 0

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM negotiator wraps the transport; leave it untouched
		return baseClient, nil
	}

	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		disableHTTP2(tr)
	}

	return baseClient, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}

func proxyActive(cfg *config.Config) bool {
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return true
	}
}
