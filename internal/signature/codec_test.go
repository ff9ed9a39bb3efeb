package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpay-cashier/internal/domain"
)

func TestBase64URLRoundTrip(t *testing.T) {
	inputs := []string{"", "AA", "_-8", "YWJj", "aGVsbG8gd29ybGQ", "-_-_-_-_"}
	for _, in := range inputs {
		decoded, err := Base64URLDecode(in)
		require.NoError(t, err, in)
		assert.Equal(t, in, Base64URLEncode(decoded))
	}
}

func TestBase64URLDecodeToleratesPadding(t *testing.T) {
	got, err := Base64URLDecode("YQ==")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func TestBase64URLDecodeRejectsMalformed(t *testing.T) {
	_, err := Base64URLDecode("a+b/")
	assert.Error(t, err)
	_, err = Base64URLDecode("!!!")
	assert.Error(t, err)
}

func TestHMACSHA256(t *testing.T) {
	sig := HMACSHA256([]byte("/api/order:1700000000"), []byte("secret"))
	assert.Len(t, sig, 32)
	assert.True(t, VerifyHMACSHA256([]byte("/api/order:1700000000"), []byte("secret"), sig))
	assert.False(t, VerifyHMACSHA256([]byte("/api/order:1700000001"), []byte("secret"), sig))
	assert.False(t, VerifyHMACSHA256([]byte("/api/order:1700000000"), []byte("other"), sig))
}

func TestMD5Hex(t *testing.T) {
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", MD5Hex("abc"))
}

func testKeyBodies(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(priv), base64.StdEncoding.EncodeToString(pub)
}

func TestWrapPEM(t *testing.T) {
	body := strings.Repeat("A", 130)
	pem := string(WrapPEM(body, "PUBLIC KEY"))
	lines := strings.Split(strings.TrimSpace(pem), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "-----BEGIN PUBLIC KEY-----", lines[0])
	assert.Len(t, lines[1], 64)
	assert.Len(t, lines[3], 2)
	assert.Equal(t, "-----END PUBLIC KEY-----", lines[4])

	already := "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----"
	assert.Equal(t, already, string(WrapPEM(already, "PUBLIC KEY")))
}

func TestRSASignVerify(t *testing.T) {
	priv, pub := testKeyBodies(t)
	content := []byte("money=1.00&name=test&out_trade_no=abc")

	sig, err := RSASign(content, priv)
	require.NoError(t, err)

	ok, err := RSAVerify(content, sig, pub)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = RSAVerify([]byte("money=2.00"), sig, pub)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = RSAVerify(content, "not base64 !!", pub)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidKeyMaterialIsCryptoConfigError(t *testing.T) {
	_, err := RSASign([]byte("x"), "bm90IGEga2V5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCryptoConfig))

	_, err = RSAVerify([]byte("x"), "c2ln", "")
	require.Error(t, err)
	var cfgErr *domain.CryptoConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
