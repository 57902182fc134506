package api

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// keyAccess authenticates host commands against the configured API keys.
// With no keys configured only loopback clients are accepted.
type keyAccess struct {
	keys atomic.Pointer[map[string]struct{}]
}

func newKeyAccess(keys []string) *keyAccess {
	a := &keyAccess{}
	a.update(keys)
	return a
}

func (a *keyAccess) update(keys []string) {
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	a.keys.Store(&set)
}

// authenticate returns the source that carried a valid key.
func (a *keyAccess) authenticate(r *http.Request) (source string, ok bool) {
	keys := *a.keys.Load()
	if len(keys) == 0 {
		return "loopback", isLoopback(r.RemoteAddr)
	}
	candidates := []struct {
		value  string
		source string
	}{
		{extractBearerToken(r.Header.Get("Authorization")), "authorization"},
		{r.Header.Get("X-Api-Key"), "x-api-key"},
		{r.URL.Query().Get("key"), "query-key"},
	}
	for _, candidate := range candidates {
		if candidate.value == "" {
			continue
		}
		if _, found := keys[candidate.value]; found {
			return candidate.source, true
		}
	}
	return "", false
}

func (a *keyAccess) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		source, ok := a.authenticate(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid api key"})
			return
		}
		log.WithField("path", c.FullPath()).Tracef("api access granted via %s", source)
		c.Next()
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return header
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return header
	}
	return strings.TrimSpace(parts[1])
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
