package llm

import (
	"net"
	"net/http"
	"time"

	"estate-assistant/internal/infra/config"
)

// Connection pool defaults for the completion endpoint.
const (
	defaultMaxIdleConns        = 50
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second

	defaultConnTimeout = 10 * time.Second
	defaultRespTimeout = 60 * time.Second
)

// NewPooledTransport returns a transport bounded by a dial timeout and a
// time-to-first-header timeout. There is no overall deadline: a completion
// stream may legitimately run for as long as the model keeps producing tokens.
func NewPooledTransport(connTimeout, respTimeout time.Duration) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connTimeout,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient builds the client used for streaming completions.
func NewHTTPClient(cfg config.LLMConfig) *http.Client {
	return &http.Client{Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout)}
}
