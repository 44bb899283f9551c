package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDevModeTokens(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("alice:analyst")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "alice" || p.Role != "analyst" {
		t.Fatalf("principal: %+v", p)
	}
	for _, bad := range []string{"alice", ":analyst", "alice:", ""} {
		if _, err := v.Verify(bad); err == nil {
			t.Fatalf("token %q accepted", bad)
		}
	}
}

func signHS256(t *testing.T, secret []byte, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	hdr, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	input := enc.EncodeToString(hdr) + "." + enc.EncodeToString(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return input + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestHMACVerify(t *testing.T) {
	secret := []byte("sekrit")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, SubjectClaim: "sub", RoleClaim: "role"}

	tok := signHS256(t, secret, map[string]any{"sub": "svc-batch", "role": "Admin"})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "svc-batch" || p.Role != "admin" {
		t.Fatalf("principal: %+v", p)
	}

	// role defaults to viewer when the claim is absent
	p, err = v.Verify(signHS256(t, secret, map[string]any{"sub": "anon"}))
	if err != nil {
		t.Fatalf("Verify without role: %v", err)
	}
	if p.Role != "viewer" {
		t.Fatalf("default role: %q", p.Role)
	}

	if _, err := v.Verify(signHS256(t, []byte("wrong"), map[string]any{"sub": "x"})); err == nil {
		t.Fatal("token signed with the wrong secret accepted")
	}
	if _, err := v.Verify(signHS256(t, secret, map[string]any{"role": "admin"})); err == nil {
		t.Fatal("token without subject accepted")
	}
	if _, err := v.Verify("not.a.jwt.at.all"); err == nil {
		t.Fatal("malformed token accepted")
	}
}
