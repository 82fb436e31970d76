package httpserver

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfmate/sharing-backend/backup"
	"github.com/shelfmate/sharing-backend/cryptoutils"
	"github.com/shelfmate/sharing-backend/kvstore"
	"github.com/shelfmate/sharing-backend/ratelimit"
	"github.com/shelfmate/sharing-backend/share"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, verifier *cryptoutils.StubAttestationVerifier) http.Handler {
	t.Helper()
	log := testLogger()

	kv := kvstore.NewMemoryStore(log)
	shares := share.NewStore(kv, log)
	codes, err := share.NewCodeGenerator()
	require.NoError(t, err)
	aliases := share.NewAliasStore(kv, shares, codes, log)
	registry := backup.NewKeyRegistry(kv, log)
	backups := backup.NewStore(kv, registry, log)
	limiter := ratelimit.NewLimiter(kv, ratelimit.FailOpen, log)

	handler := NewHandler(shares, aliases, backups, registry, limiter, verifier, log)
	srv, err := New(&HTTPServerConfig{
		ListenAddr:  ":0",
		MetricsAddr: "",
		Log:         log,
	}, handler, nil)
	require.NoError(t, err)

	return srv.getRouter()
}

func testSnapshot(t *testing.T) string {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"timestamp":%q,"items":[]}`, time.Now().UTC().Format(time.RFC3339)))
	raw := make([]byte, 0, 4+len(body)+64)
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	raw = append(raw, header[:]...)
	raw = append(raw, body...)
	raw = append(raw, make([]byte, 64)...)
	return base64.StdEncoding.EncodeToString(raw)
}

func testKeys(t *testing.T) (pubB64 string, sign func(identifier string) string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pub), func(identifier string) string {
		return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(identifier)))
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	return decoded
}

func TestShareLifecycle(t *testing.T) {
	router := newTestServer(t, &cryptoutils.StubAttestationVerifier{})
	pubB64, sign := testKeys(t)
	newPubB64, _ := testKeys(t)
	snapshot := testSnapshot(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
		"shareCode": "ABC123", "snapshotData": snapshot, "publicKey": pubB64,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Body.String())

	// Claiming the same code again conflicts.
	w = doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
		"shareCode": "ABC123", "snapshotData": snapshot, "publicKey": pubB64,
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/share/ABC123", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fetched := decodeResponse(t, w)
	assert.Equal(t, snapshot, fetched["snapshotData"])
	assert.Equal(t, pubB64, fetched["publicKey"])

	// Updates need a valid ownership signature over the code.
	w = doJSON(t, router, http.MethodPut, "/api/v1/share/ABC123", map[string]any{
		"snapshotData": snapshot, "publicKey": newPubB64,
	}, map[string]string{ownershipSignatureHeader: "bm90LWEtc2lnbmF0dXJl"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPut, "/api/v1/share/ABC123", map[string]any{
		"snapshotData": snapshot, "publicKey": newPubB64,
	}, map[string]string{ownershipSignatureHeader: sign("ABC123")})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	// The old key signed the record over to the new one; its signature no
	// longer deletes.
	w = doJSON(t, router, http.MethodDelete, "/api/v1/share/ABC123", nil,
		map[string]string{ownershipSignatureHeader: sign("ABC123")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/share/ABC123", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, newPubB64, decodeResponse(t, w)["publicKey"])
}

func TestShareDelete(t *testing.T) {
	router := newTestServer(t, &cryptoutils.StubAttestationVerifier{})
	pubB64, sign := testKeys(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
		"shareCode": "XYZ789", "snapshotData": testSnapshot(t), "publicKey": pubB64,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/share/XYZ789", nil,
		map[string]string{ownershipSignatureHeader: sign("XYZ789")})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/share/XYZ789", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := decodeResponse(t, w)
	assert.NotEmpty(t, body["error"])
}

func TestShareValidation(t *testing.T) {
	router := newTestServer(t, &cryptoutils.StubAttestationVerifier{})
	pubB64, _ := testKeys(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
		"shareCode": "bad", "snapshotData": testSnapshot(t), "publicKey": pubB64,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/share", bytes.NewReader([]byte("{not json")))
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

func TestExpiringShareLifecycle(t *testing.T) {
	router := newTestServer(t, &cryptoutils.StubAttestationVerifier{})
	pubB64, _ := testKeys(t)
	snapshot := testSnapshot(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
		"shareCode": "ABC123", "snapshotData": snapshot, "publicKey": pubB64,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/share/expiring", map[string]any{
		"mainShareCode": "ABC123", "displayName": "Pantry", "shareNotes": "weekly",
		"expirationDuration": 7200,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeResponse(t, w)
	aliasCode, ok := created["shareCode"].(string)
	require.True(t, ok)
	require.Len(t, aliasCode, 6)

	// The alias resolves to the primary's payload under its own metadata.
	w = doJSON(t, router, http.MethodGet, "/api/v1/share/"+aliasCode, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resolved := decodeResponse(t, w)
	assert.Equal(t, snapshot, resolved["snapshotData"])
	assert.Equal(t, "Pantry", resolved["displayName"])
	assert.Equal(t, "weekly", resolved["shareNotes"])

	w = doJSON(t, router, http.MethodGet, "/api/v1/share/ABC123/expiring", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decodeResponse(t, w)
	shares, ok := listed["expiringShares"].([]any)
	require.True(t, ok)
	assert.Len(t, shares, 1)

	// Duration outside the allowed range is rejected.
	w = doJSON(t, router, http.MethodPost, "/api/v1/share/expiring", map[string]any{
		"mainShareCode": "ABC123", "displayName": "Pantry", "expirationDuration": 60,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/share/expiring/"+aliasCode, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/share/"+aliasCode, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBackupLifecycle(t *testing.T) {
	router := newTestServer(t, &cryptoutils.StubAttestationVerifier{})
	pubB64, sign := testKeys(t)
	_, otherSign := testKeys(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/backup/register", map[string]any{
		"backupKey": "ABC-DEF-GHJ", "publicKey": pubB64,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/backup/register", map[string]any{
		"backupKey": "ABC-DEF-GHJ", "publicKey": pubB64,
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Uploads against an unregistered key are rejected before any signature
	// check.
	w = doJSON(t, router, http.MethodPost, "/api/v1/backup/XYZ-XYZ-XYZ", map[string]any{
		"type": "inventory", "data": "ZGF0YQ==", "checksum": "sum-1",
	}, map[string]string{ownershipSignatureHeader: sign("XYZ-XYZ-XYZ")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/backup/ABC-DEF-GHJ", map[string]any{
		"type": "inventory", "data": "ZGF0YQ==", "checksum": "sum-1",
	}, map[string]string{ownershipSignatureHeader: otherSign("ABC-DEF-GHJ")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/backup/ABC-DEF-GHJ", map[string]any{
		"type": "inventory", "data": "ZGF0YQ==", "checksum": "sum-1",
	}, map[string]string{ownershipSignatureHeader: sign("ABC-DEF-GHJ")})
	require.Equal(t, http.StatusCreated, w.Code)
	uploaded := decodeResponse(t, w)
	assert.Equal(t, float64(1), uploaded["backupCount"])

	// Re-uploading the same checksum is acknowledged with 200 and skipped.
	w = doJSON(t, router, http.MethodPost, "/api/v1/backup/ABC-DEF-GHJ", map[string]any{
		"type": "inventory", "data": "ZGF0YQ==", "checksum": "sum-1",
	}, map[string]string{ownershipSignatureHeader: sign("ABC-DEF-GHJ")})
	require.Equal(t, http.StatusOK, w.Code)
	skipped := decodeResponse(t, w)
	assert.Equal(t, true, skipped["skipped"])

	w = doJSON(t, router, http.MethodGet, "/api/v1/backup/ABC-DEF-GHJ?type=inventory", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	downloaded := decodeResponse(t, w)
	assert.Equal(t, "ZGF0YQ==", downloaded["data"])
	assert.Equal(t, "sum-1", downloaded["checksum"])

	w = doJSON(t, router, http.MethodGet, "/api/v1/backup/ABC-DEF-GHJ?type=settings", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/backup/ABC-DEF-GHJ?type=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitResponse(t *testing.T) {
	router := newTestServer(t, &cryptoutils.StubAttestationVerifier{})
	pubB64, _ := testKeys(t)
	snapshot := testSnapshot(t)

	// Exhaust the share-create budget; invalid attempts consume slots too.
	for i := 0; i < shareCreateLimit; i++ {
		w := doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
			"shareCode": fmt.Sprintf("AAA%03d", i), "snapshotData": snapshot, "publicKey": pubB64,
		}, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
		"shareCode": "BBB000", "snapshotData": snapshot, "publicKey": pubB64,
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decodeResponse(t, w)
	assert.NotEmpty(t, body["resetAt"])

	// Other clients are unaffected.
	w = doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
		"shareCode": "BBB000", "snapshotData": snapshot, "publicKey": pubB64,
	}, map[string]string{"X-Forwarded-For": "198.51.100.4"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAttestationPolicy(t *testing.T) {
	pubB64, _ := testKeys(t)
	snapshot := testSnapshot(t)

	t.Run("assertions rejected when configured", func(t *testing.T) {
		router := newTestServer(t, &cryptoutils.StubAttestationVerifier{RejectAsserted: true})

		w := doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
			"shareCode": "ABC123", "snapshotData": snapshot, "publicKey": pubB64,
		}, map[string]string{deviceAssertionHeader: "some-assertion"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// Requests without an assertion still pass.
		w = doJSON(t, router, http.MethodPost, "/api/v1/share", map[string]any{
			"shareCode": "ABC123", "snapshotData": snapshot, "publicKey": pubB64,
		}, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("reads bypass attestation", func(t *testing.T) {
		router := newTestServer(t, &cryptoutils.StubAttestationVerifier{RejectAsserted: true})

		w := doJSON(t, router, http.MethodGet, "/api/v1/share/ABC123", nil,
			map[string]string{deviceAssertionHeader: "some-assertion"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHealthAndDrain(t *testing.T) {
	router := newTestServer(t, &cryptoutils.StubAttestationVerifier{})

	w := doJSON(t, router, http.MethodGet, "/livez", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/drain", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, router, http.MethodGet, "/undrain", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
