package venue

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"predxarb/internal/config"
)

// VenueAAuth signs requests to the writable venue with HMAC-SHA384 over a
// base64-encoded JSON payload. The payload carries the request path, a
// strictly increasing per-second nonce, and the literal account "primary".
//
// Nonces persist across restarts: on construction the last issued nonce is
// read from noncePath, and every increment is flushed back before the
// signed request is allowed to go out.
type VenueAAuth struct {
	apiKey    string
	secret    []byte
	noncePath string

	mu    sync.Mutex
	nonce int64
}

// NewVenueAAuth builds a VenueAAuth from config, loading any persisted nonce.
func NewVenueAAuth(cfg config.VenueAConfig) (*VenueAAuth, error) {
	a := &VenueAAuth{
		apiKey:    cfg.APIKey,
		secret:    []byte(cfg.APISecret),
		noncePath: cfg.NonceStatePath,
	}
	if a.noncePath != "" {
		if n, err := readNonce(a.noncePath); err == nil {
			a.nonce = n
		}
	}
	return a, nil
}

// nextNonce returns a nonce strictly greater than the last one issued. Per
// spec, nonce resolution is seconds; two requests in the same second bump
// the counter by one instead of reusing the timestamp.
func (a *VenueAAuth) nextNonce() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().Unix()
	if now > a.nonce {
		a.nonce = now
	} else {
		a.nonce++
	}
	if a.noncePath != "" {
		if err := writeNonce(a.noncePath, a.nonce); err != nil {
			return 0, fmt.Errorf("persist nonce: %w", err)
		}
	}
	return a.nonce, nil
}

// Resync forces the nonce counter ahead of the given value, used when the
// venue rejects a request as nonce-out-of-window (§7 business errors).
func (a *VenueAAuth) Resync(minNonce int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if minNonce > a.nonce {
		a.nonce = minNonce
		if a.noncePath != "" {
			_ = writeNonce(a.noncePath, a.nonce)
		}
	}
}

// Headers returns the X-API-KEY / X-PAYLOAD / X-SIGNATURE header set for a
// request to the given path. path must not include the query string.
func (a *VenueAAuth) Headers(path string) (map[string]string, error) {
	nonce, err := a.nextNonce()
	if err != nil {
		return nil, err
	}

	payload := struct {
		Request string `json:"request"`
		Nonce   int64  `json:"nonce"`
		Account string `json:"account"`
	}{Request: path, Nonce: nonce, Account: "primary"}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha512.New384, a.secret)
	mac.Write([]byte(encoded))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-API-KEY":   a.apiKey,
		"X-PAYLOAD":   encoded,
		"X-SIGNATURE": sig,
	}, nil
}

func readNonce(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func writeNonce(path string, n int64) error {
	return os.WriteFile(path, []byte(strconv.FormatInt(n, 10)), 0o600)
}

// VenueCAuth signs requests to the bracket-market reference venue with
// RSA-PSS-SHA256 over timestamp‖METHOD‖path (path excludes the query string).
type VenueCAuth struct {
	keyID      string
	privateKey *rsa.PrivateKey
}

// NewVenueCAuth loads the PEM-encoded RSA private key at path and builds a VenueCAuth.
func NewVenueCAuth(cfg config.VenueCConfig) (*VenueCAuth, error) {
	raw, err := os.ReadFile(cfg.RSAPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read rsa private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode pem: no block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		keyAny, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("parse rsa private key: %w", err)
		}
		rsaKey, ok := keyAny.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rsaKey
	}
	return &VenueCAuth{keyID: cfg.KeyID, privateKey: key}, nil
}

// Headers returns the signing headers for a request to method/path at the
// current instant. path must not include the query string.
func (a *VenueCAuth) Headers(method, path string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := timestamp + method + path

	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, a.privateKey, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("rsa-pss sign: %w", err)
	}

	return map[string]string{
		"X-KEY-ID":    a.keyID,
		"X-TIMESTAMP": timestamp,
		"X-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
	}, nil
}
