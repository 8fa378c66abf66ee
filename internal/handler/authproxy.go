package handler

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/projectdesk/internal/logger"
)

// forwarded request headers the backend needs to authenticate the caller.
var proxyRequestHeaders = []string{"Content-Type", "Authorization", "Cookie", "X-XSRF-TOKEN"}

// BroadcastAuthProxy forwards channel-join authorization requests from the web
// tier to the backend that owns membership data. The proxy never interprets
// the exchange: status, body and cookies pass through untouched so the realtime
// client sees exactly what the backend answered.
func BroadcastAuthProxy(backendBaseURL string) http.HandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}
	base := strings.TrimSuffix(backendBaseURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if base == "" {
			writeError(w, http.StatusServiceUnavailable, "broadcast auth not configured")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}

		proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, base+"/internal/broadcasting/auth", bytes.NewReader(body))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}
		for _, name := range proxyRequestHeaders {
			if v := r.Header.Get(name); v != "" {
				proxyReq.Header.Set(name, v)
			}
		}
		if proxyReq.Header.Get("Content-Type") == "" {
			proxyReq.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(proxyReq)
		if err != nil {
			logger.Errorf("broadcast auth proxy: %v", err)
			writeError(w, http.StatusBadGateway, "broadcast auth unavailable")
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		for _, c := range resp.Header.Values("Set-Cookie") {
			w.Header().Add("Set-Cookie", c)
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}
