// SPDX-License-Identifier: MIT

package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// WebSocket close codes used when a subscribe upgrade is rejected before the
// stream starts.
const (
	wsCloseUnauthorized = 4401
	wsCloseForbidden    = 4403
)

var loopbackHosts = map[string]bool{
	"127.0.0.1":  true,
	"::1":        true,
	"localhost":  true,
	"testclient": true,
}

// isLoopback normalises the remote host (brackets, zone, v4-mapped prefix)
// and checks it against the loopback set.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "::ffff:")
	if loopbackHosts[host] {
		return true
	}
	return strings.HasPrefix(host, "127.")
}

// lanOnly rejects non-loopback clients when server.lan_refuse is set.
func (s *Server) lanOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.LANOnly && !isLoopback(r.RemoteAddr) {
			s.reject(w, r, http.StatusForbidden, wsCloseForbidden, "LAN access disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auth enforces the static API key on every /v1 route. The subscribe endpoint
// additionally accepts the key as an api_key query parameter, because
// EventSource cannot set headers.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		key := s.cfg.API.APIKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-API-Key")
		if got == "" && isSubscribePath(r.URL.Path) {
			got = r.URL.Query().Get("api_key")
		}
		if got != key {
			s.reject(w, r, http.StatusUnauthorized, wsCloseUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isSubscribePath(path string) bool {
	return strings.HasSuffix(path, "/catalog/subscribe")
}

// reject answers a failed gate. A pending WebSocket upgrade is completed and
// immediately closed with the transport-specific code so clients can tell
// auth failure from LAN rejection.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, httpStatus, wsCode int, msg string) {
	if websocket.IsWebSocketUpgrade(r) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(wsCode, msg), deadline())
		_ = conn.Close()
		return
	}
	writeErrorMessage(w, httpStatus, msg)
}

// cors emits Access-Control-Allow-Origin for configured origins. Only GET is
// ever allowed cross-origin; mutating routes stay same-origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", http.MethodGet)
			w.Header().Set("Access-Control-Allow-Headers", "X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.API.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
