package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxwire/voxwire/pkg/bridge/rategate"
)

func newTestAuth(mode Mode, secret string) (*Authenticator, *rategate.Gate) {
	base := time.Unix(1_700_000_000, 0)
	gate := rategate.New(rategate.Config{}, func() time.Time { return base })
	return New(mode, secret, gate), gate
}

func TestAuthorize_OpenModeAcceptsAnything(t *testing.T) {
	a, _ := newTestAuth(ModeOpen, "")
	if res := a.Authorize("", "10.0.0.1", ""); !res.Accepted {
		t.Fatalf("open mode rejected: %+v", res)
	}
	if res := a.Authorize("whatever", "10.0.0.1", "MZ1"); !res.Accepted {
		t.Fatalf("open mode rejected: %+v", res)
	}
}

func TestAuthorize_RequiredModeValidatesToken(t *testing.T) {
	a, _ := newTestAuth(ModeRequired, "s3cret")

	if res := a.Authorize("s3cret", "10.0.0.1", ""); !res.Accepted {
		t.Fatalf("valid token rejected: %+v", res)
	}
	if res := a.Authorize("wrong", "10.0.0.2", ""); res.Accepted || res.Reason != ReasonTokenInvalid {
		t.Fatalf("invalid token: %+v", res)
	}
	if res := a.Authorize("", "10.0.0.3", ""); res.Accepted {
		t.Fatalf("missing token accepted: %+v", res)
	}
}

func TestAuthorize_RejectionStartsCooldown(t *testing.T) {
	a, _ := newTestAuth(ModeRequired, "s3cret")

	if res := a.Authorize("wrong", "10.0.0.1", "MZ1"); res.Accepted {
		t.Fatal("invalid token accepted")
	}

	// Even the correct token is refused while the cooldown is active.
	res := a.Authorize("s3cret", "10.0.0.1", "MZ1")
	if res.Accepted || !res.FromCooldown || res.Reason != rategate.ReasonCooldown {
		t.Fatalf("cooldown not enforced: %+v", res)
	}

	// Another address is unaffected.
	if res := a.Authorize("s3cret", "10.0.0.2", ""); !res.Accepted {
		t.Fatalf("unrelated address rejected: %+v", res)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/stream?token=abc", nil)
	if got := TokenFromRequest(r); got != "abc" {
		t.Fatalf("query token = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/stream", nil)
	r.Header.Set("X-Voxwire-Token", "def")
	if got := TokenFromRequest(r); got != "def" {
		t.Fatalf("header token = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/stream", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("empty token = %q", got)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/stream", nil)
	r.RemoteAddr = "198.51.100.7:4431"
	if got := ClientIP(r, false); got != "198.51.100.7" {
		t.Fatalf("remote addr ip = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := ClientIP(r, false); got != "198.51.100.7" {
		t.Fatalf("untrusted proxy header used: %q", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.5" {
		t.Fatalf("trusted proxy ip = %q", got)
	}
}
