package middlewares

import (
	"net"
	"net/http"

	"bitbucket.org/dukalink/shop_backend/config"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Published source ranges the gateway delivers callbacks from. Overridable
// via MPESA_CALLBACK_ALLOWLIST when the ranges rotate.
var defaultCallbackSources = []string{
	"196.201.214.200",
	"196.201.214.206",
	"196.201.213.114",
	"196.201.214.207",
	"196.201.214.208",
	"196.201.213.44",
	"196.201.212.127",
	"196.201.212.138",
	"196.201.212.129",
	"196.201.212.136",
	"196.201.212.74",
	"196.201.212.69",
}

type ipMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newIPMatcher(entries []string) *ipMatcher {
	m := &ipMatcher{ips: make(map[string]struct{})}
	for _, entry := range entries {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			m.nets = append(m.nets, cidr)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			m.ips[ip.String()] = struct{}{}
		}
	}
	return m
}

func (m *ipMatcher) contains(raw string) bool {
	ip := net.ParseIP(raw)
	if ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, cidr := range m.nets {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// CallbackAllowlistMiddleware rejects callback deliveries from source IPs
// outside the gateway's published ranges. DEV_MODE bypasses the check so
// local tunnels work. Every decision is logged; denials answer 403 without a
// body the gateway could misread as an ack.
func CallbackAllowlistMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	entries := config.CallbackAllowlist()
	if entries == nil {
		entries = defaultCallbackSources
	}
	matcher := newIPMatcher(entries)

	return func(c *gin.Context) {
		source := c.ClientIP()
		if config.DevMode() {
			logger.WithFields(logrus.Fields{
				"module":    "middlewares",
				"source_ip": source,
			}).Warn("callback allowlist bypassed (dev mode)")
			c.Next()
			return
		}
		if matcher.contains(source) {
			logger.WithFields(logrus.Fields{
				"module":    "middlewares",
				"source_ip": source,
			}).Info("callback source allowed")
			c.Next()
			return
		}
		logger.WithFields(logrus.Fields{
			"module":    "middlewares",
			"source_ip": source,
		}).Warn("callback source denied")
		c.AbortWithStatus(http.StatusForbidden)
	}
}
