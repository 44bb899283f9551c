// Package auth verifies bearer tokens for the scoring API. Three modes are
// supported: dev (unsigned "subject:role" tokens), hmac (HS256 with a shared
// secret), and jwks (RS256 against a cached JWKS document).
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Principal is the authenticated identity a token resolves to.
type Principal struct {
	Subject string
	Role    string
}

type Verifier struct {
	Mode         string
	HMACSecret   []byte
	JWKSURL      string
	SubjectClaim string
	RoleClaim    string

	http *http.Client

	mu        sync.RWMutex
	keys      []jsonWebKey
	fetchedAt time.Time
	cacheTTL  time.Duration
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:         mode,
		HMACSecret:   []byte(os.Getenv("AUTH_HMAC_SECRET")),
		JWKSURL:      os.Getenv("AUTH_JWKS_URL"),
		SubjectClaim: envOr("AUTH_SUBJECT_CLAIM", "sub"),
		RoleClaim:    envOr("AUTH_ROLE_CLAIM", "role"),
		http:         &http.Client{Timeout: 5 * time.Second},
		cacheTTL:     10 * time.Minute,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// Verify resolves a bearer token to a principal. Missing roles fall back to
// viewer, the least privileged role.
func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		subject, role, ok := strings.Cut(token, ":")
		if !ok || subject == "" || role == "" {
			return Principal{}, errors.New("dev token must be subject:role")
		}
		return Principal{Subject: subject, Role: role}, nil
	}

	hdr, claims, sig, signingInput, err := splitCompact(token)
	if err != nil {
		return Principal{}, err
	}
	alg, _ := hdr["alg"].(string)
	switch v.Mode {
	case "hmac":
		if alg != "HS256" {
			return Principal{}, fmt.Errorf("alg %q not allowed in hmac mode", alg)
		}
		mac := hmac.New(sha256.New, v.HMACSecret)
		mac.Write(signingInput)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return Principal{}, errors.New("signature mismatch")
		}
	case "jwks":
		if alg != "RS256" {
			return Principal{}, fmt.Errorf("alg %q not allowed in jwks mode", alg)
		}
		kid, _ := hdr["kid"].(string)
		pub, err := v.publicKey(kid)
		if err != nil {
			return Principal{}, err
		}
		digest := sha256.Sum256(signingInput)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
			return Principal{}, errors.New("signature mismatch")
		}
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}

	subject, _ := claims[v.SubjectClaim].(string)
	if subject == "" {
		return Principal{}, fmt.Errorf("claim %q missing", v.SubjectClaim)
	}
	role, _ := claims[v.RoleClaim].(string)
	if role == "" {
		role = "viewer"
	}
	return Principal{Subject: subject, Role: strings.ToLower(role)}, nil
}

// splitCompact decodes the three segments of a compact JWS and returns the
// parsed header and claims, the raw signature, and the signing input.
func splitCompact(token string) (hdr, claims map[string]any, sig, signingInput []byte, err error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return nil, nil, nil, nil, errors.New("token is not a compact JWS")
	}
	dec := base64.RawURLEncoding
	hdrJSON, err := dec.DecodeString(segs[0])
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("decode header: %w", err)
	}
	claimsJSON, err := dec.DecodeString(segs[1])
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("decode payload: %w", err)
	}
	sig, err = dec.DecodeString(segs[2])
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("decode signature: %w", err)
	}
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parse header: %w", err)
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parse claims: %w", err)
	}
	return hdr, claims, sig, []byte(segs[0] + "." + segs[1]), nil
}

// publicKey returns the RSA key for kid, refreshing the JWKS cache when it
// is empty or older than cacheTTL.
func (v *Verifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	keys := v.keys
	stale := time.Since(v.fetchedAt) > v.cacheTTL
	v.mu.RUnlock()
	if len(keys) == 0 || stale {
		if err := v.refreshKeys(); err != nil {
			return nil, err
		}
		v.mu.RLock()
		keys = v.keys
		v.mu.RUnlock()
	}
	for _, k := range keys {
		if k.Kid != kid || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		return rsaKey(k)
	}
	return nil, fmt.Errorf("kid %q not present in JWKS", kid)
}

func rsaKey(k jsonWebKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

func (v *Verifier) refreshKeys() error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	resp, err := v.http.Get(v.JWKSURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("parse JWKS: %w", err)
	}
	v.mu.Lock()
	v.keys = doc.Keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return nil
}
