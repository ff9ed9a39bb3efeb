package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloudpay-cashier/internal/domain"
	"cloudpay-cashier/internal/signature"
)

const (
	// AuthorizationPrefix precedes "<signature>:<timestamp>" on signed POSTs.
	AuthorizationPrefix = "Bearer Cr "
	// SignQueryParam carries "<signature>:<timestamp>" on signed GETs.
	SignQueryParam = "sign"
	// SignedHeaderPrefix selects the request headers covered by a POST signature.
	SignedHeaderPrefix = "X-Cr-"
)

// Verifier authenticates requests issued by the upstream platform.
//
// The embedded timestamp is an expiry: the upstream signs with a deadline
// slightly in the future and the signature is accepted only while the
// deadline has not passed.
type Verifier struct {
	key []byte
	now func() time.Time
}

// NewVerifier returns a verifier for the shared communication key. With an
// empty key every request passes.
func NewVerifier(communicationKey string) *Verifier {
	return &Verifier{key: []byte(communicationKey), now: time.Now}
}

func (v *Verifier) Enabled() bool { return len(v.key) > 0 }

// Verify checks r against its signature. body must be the raw request body
// exactly as received. The returned error wraps domain.ErrAuth and names the
// failed check; callers must not echo it to the client.
func (v *Verifier) Verify(r *http.Request, body []byte) error {
	if !v.Enabled() {
		return nil
	}

	var (
		raw     string
		content string
	)
	switch r.Method {
	case http.MethodPost:
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, AuthorizationPrefix) {
			return fmt.Errorf("%w: missing Cr authorization header", domain.ErrAuth)
		}
		raw = strings.TrimPrefix(header, AuthorizationPrefix)
		signed, err := PostSignContent(r.URL.Path, r.Header, body)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrAuth, err)
		}
		content = signed
	case http.MethodGet:
		raw = r.URL.Query().Get(SignQueryParam)
		if raw == "" {
			return fmt.Errorf("%w: missing sign parameter", domain.ErrAuth)
		}
		content = r.URL.Path
	default:
		return fmt.Errorf("%w: unsigned method %s", domain.ErrAuth, r.Method)
	}

	sig, ts, err := splitSignature(raw)
	if err != nil {
		return err
	}
	if ts <= v.now().Unix() {
		return fmt.Errorf("%w: signature expired", domain.ErrAuth)
	}
	decoded, err := signature.Base64URLDecode(sig)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding", domain.ErrAuth)
	}
	if !signature.VerifyHMACSHA256(finalContent(content, ts), v.key, decoded) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrAuth)
	}
	return nil
}

// Sign produces the "<signature>:<timestamp>" token for content that expires
// at expires. It is the counterpart of Verify, used by the simulator and tests.
func Sign(key, content string, expires int64) string {
	mac := signature.HMACSHA256(finalContent(content, expires), []byte(key))
	return signature.Base64URLEncode(mac) + ":" + strconv.FormatInt(expires, 10)
}

type signContent struct {
	Path   string
	Header string
	Body   string
}

// PostSignContent builds the canonical JSON document covered by a POST
// signature.
func PostSignContent(path string, header http.Header, body []byte) (string, error) {
	doc, err := json.Marshal(signContent{
		Path:   path,
		Header: SignedHeaderString(header),
		Body:   string(body),
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

// SignedHeaderString joins the X-Cr-* headers as k=v pairs sorted by key.
func SignedHeaderString(header http.Header) string {
	keys := make([]string, 0)
	for k := range header {
		if strings.HasPrefix(k, SignedHeaderPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+header.Get(k))
	}
	return strings.Join(parts, "&")
}

func finalContent(content string, ts int64) []byte {
	return []byte(content + ":" + strconv.FormatInt(ts, 10))
}

func splitSignature(raw string) (string, int64, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, fmt.Errorf("%w: malformed signature", domain.ErrAuth)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || ts == 0 {
		return "", 0, fmt.Errorf("%w: malformed timestamp", domain.ErrAuth)
	}
	return parts[0], ts, nil
}
