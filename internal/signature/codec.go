// Package signature holds the stateless primitives used to sign and verify
// messages exchanged with the upstream platform and the payment gateway.
package signature

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"strings"

	"cloudpay-cashier/internal/domain"
)

const pemLineWidth = 64

// Base64URLEncode encodes without padding.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode accepts input with or without trailing padding.
func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func HMACSHA256(content, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(content)
	return mac.Sum(nil)
}

// VerifyHMACSHA256 compares in constant time.
func VerifyHMACSHA256(content, key, sig []byte) bool {
	return hmac.Equal(HMACSHA256(content, key), sig)
}

func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// WrapPEM turns a bare base64 key body into a PEM block of the given type.
// Input that already carries PEM delimiters is returned unchanged.
func WrapPEM(body, blockType string) []byte {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "-----BEGIN") {
		return []byte(body)
	}
	body = strings.Join(strings.Fields(body), "")

	var b strings.Builder
	b.WriteString("-----BEGIN " + blockType + "-----\n")
	for len(body) > pemLineWidth {
		b.WriteString(body[:pemLineWidth])
		b.WriteByte('\n')
		body = body[pemLineWidth:]
	}
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString("-----END " + blockType + "-----\n")
	return []byte(b.String())
}

// ParsePrivateKey accepts PKCS#8 or PKCS#1 RSA keys, bare or PEM-wrapped.
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &domain.CryptoConfigError{Key: "merchant private key", Err: errors.New("empty")}
	}
	block, _ := pem.Decode(WrapPEM(raw, "PRIVATE KEY"))
	if block == nil {
		return nil, &domain.CryptoConfigError{Key: "merchant private key", Err: errors.New("malformed PEM")}
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, &domain.CryptoConfigError{Key: "merchant private key", Err: errors.New("not an RSA key")}
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, &domain.CryptoConfigError{Key: "merchant private key", Err: err}
	}
	return key, nil
}

// ParsePublicKey accepts PKIX or PKCS#1 RSA public keys, bare or PEM-wrapped.
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &domain.CryptoConfigError{Key: "platform public key", Err: errors.New("empty")}
	}
	block, _ := pem.Decode(WrapPEM(raw, "PUBLIC KEY"))
	if block == nil {
		return nil, &domain.CryptoConfigError{Key: "platform public key", Err: errors.New("malformed PEM")}
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, &domain.CryptoConfigError{Key: "platform public key", Err: errors.New("not an RSA key")}
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, &domain.CryptoConfigError{Key: "platform public key", Err: err}
	}
	return key, nil
}

// SignRSA signs content with SHA256withRSA and returns standard base64.
func SignRSA(content []byte, key *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256(content)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyRSA checks a standard base64 SHA256withRSA signature. Malformed
// signatures verify as false.
func VerifyRSA(content []byte, signatureB64 string, key *rsa.PublicKey) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(content)
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
}

// RSASign parses privateKeyPEM and signs content with it.
func RSASign(content []byte, privateKeyPEM string) (string, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	return SignRSA(content, key)
}

// RSAVerify parses publicKeyPEM and verifies signatureB64 over content. The
// error is non-nil only for unusable key material.
func RSAVerify(content []byte, signatureB64, publicKeyPEM string) (bool, error) {
	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false, err
	}
	return VerifyRSA(content, signatureB64, key), nil
}
