package util

import (
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/motemen/go-loghttp"
	"go.uber.org/zap"
)

// NewHTTPClient returns a client for an outbound provider API. Every request
// is bounded by timeout. With dump set, requests and responses are written
// to the debug log in full, credentials included, so it is meant for local
// troubleshooting only.
func NewHTTPClient(timeout time.Duration, dump bool, log *zap.Logger) *http.Client {
	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if dump && log != nil {
		transport = &loghttp.Transport{
			Transport: transport,
			LogRequest: func(req *http.Request) {
				buf, err := httputil.DumpRequestOut(req, true)
				if err != nil {
					log.Error("dumping http request", zap.Error(err))
					return
				}
				log.Debug("http request", zap.ByteString("dump", buf))
			},
			LogResponse: func(resp *http.Response) {
				buf, err := httputil.DumpResponse(resp, true)
				if err != nil {
					log.Error("dumping http response", zap.Error(err))
					return
				}
				log.Debug("http response", zap.ByteString("dump", buf))
			},
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
