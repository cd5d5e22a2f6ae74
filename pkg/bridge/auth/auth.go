package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/voxwire/voxwire/pkg/bridge/rategate"
)

type Mode string

const (
	// ModeRequired rejects any connection that does not present the
	// shared secret. Production deployments run in this mode.
	ModeRequired Mode = "required"
	// ModeOpen accepts every candidate. It exists for local development
	// and must be chosen explicitly in configuration, never inferred
	// from a missing secret.
	ModeOpen Mode = "open"
)

type Result struct {
	Accepted     bool
	Reason       rategate.Reason
	FromCooldown bool
}

const ReasonTokenInvalid rategate.Reason = "token_invalid"

// Authenticator validates the shared-secret token a carrier connection
// must present. The same token arrives redundantly through the stream
// URL, the in-band start parameters, and a handshake header, because
// intermediaries are known to strip any one of them.
type Authenticator struct {
	mode   Mode
	secret string
	gate   *rategate.Gate
}

func New(mode Mode, secret string, gate *rategate.Gate) *Authenticator {
	return &Authenticator{mode: mode, secret: secret, gate: gate}
}

func (a *Authenticator) Mode() Mode {
	if a == nil {
		return ModeOpen
	}
	return a.mode
}

// Authorize decides whether a candidate token from addr may open a
// session. A rejection records cooldowns so the carrier's automatic
// redial cannot turn one bad token into a reconnect storm; while a
// cooldown is active the candidate is rejected without re-validation.
func (a *Authenticator) Authorize(candidate, addr, streamSid string) Result {
	if a == nil || a.mode == ModeOpen {
		return Result{Accepted: true}
	}

	if a.gate != nil {
		if d := a.gate.CheckCooldown(addr, streamSid); !d.Allowed {
			return Result{Accepted: false, Reason: d.Reason, FromCooldown: true}
		}
	}

	if a.TokenValid(candidate) {
		return Result{Accepted: true}
	}

	if a.gate != nil {
		a.gate.RecordRejection(addr, streamSid)
	}
	return Result{Accepted: false, Reason: ReasonTokenInvalid}
}

// TokenValid compares candidate against the shared secret in constant
// time. Open mode accepts everything.
func (a *Authenticator) TokenValid(candidate string) bool {
	if a == nil || a.mode == ModeOpen {
		return true
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(a.secret)) == 1
}

// TokenFromRequest extracts the candidate token presented at the
// HTTP-upgrade stage: the stream URL query parameter first, then the
// handshake header.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.Header.Get("X-Voxwire-Token"))
}

// ClientIP resolves the source address for admission bookkeeping.
// Proxy headers are only honored when the deployment sits behind a
// trusted load balancer.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}

	if trustProxyHeaders {
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// XFF can be "client, proxy1, proxy2". Take the left-most.
			if ip := parseIP(strings.Split(raw, ",")[0]); ip != "" {
				return ip
			}
		}
	}

	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseIP(host)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
