package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelfmate/sharing-backend/backup"
	"github.com/shelfmate/sharing-backend/interfaces"
	"github.com/shelfmate/sharing-backend/metrics"
	"github.com/shelfmate/sharing-backend/ratelimit"
	"github.com/shelfmate/sharing-backend/share"
)

// Per-endpoint rate limits, counted per client address per hour.
const (
	rateLimitWindow = time.Hour

	shareCreateLimit    = 10
	shareGetLimit       = 60
	shareUpdateLimit    = 30
	shareDeleteLimit    = 30
	aliasCreateLimit    = 20
	backupRegisterLimit = 10
	backupUploadLimit   = 30
	backupDownloadLimit = 60
)

// Handler implements the API endpoints on top of the domain stores.
type Handler struct {
	shares   *share.Store
	aliases  *share.AliasStore
	backups  *backup.Store
	registry *backup.KeyRegistry
	limiter  *ratelimit.Limiter
	verifier interfaces.AttestationVerifier
	metrics  *metrics.MetricsServer
	log      *slog.Logger
}

// NewHandler creates the API handler. The metrics instruments are attached by
// the server; a handler used directly (tests) records nothing.
func NewHandler(shares *share.Store, aliases *share.AliasStore, backups *backup.Store, registry *backup.KeyRegistry, limiter *ratelimit.Limiter, verifier interfaces.AttestationVerifier, log *slog.Logger) *Handler {
	return &Handler{
		shares:   shares,
		aliases:  aliases,
		backups:  backups,
		registry: registry,
		limiter:  limiter,
		verifier: verifier,
		log:      log,
	}
}

// allow consumes one rate limit slot, writing the 429 response itself when the
// limit is exhausted.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, endpoint string, limit int) bool {
	result, err := h.limiter.Check(r.Context(), clientAddress(r), endpoint, limit, rateLimitWindow)
	if err != nil {
		h.writeError(w, err)
		return false
	}
	if !result.Allowed {
		if h.metrics != nil {
			h.metrics.RateLimitRejections.WithLabelValues(endpoint).Inc()
		}
		writeRateLimited(w, result.ResetAt)
		return false
	}
	return true
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return fmt.Errorf("%w: malformed JSON body", interfaces.ErrValidation)
	}
	return nil
}

type createShareRequest struct {
	ShareCode    string `json:"shareCode"`
	SnapshotData string `json:"snapshotData"`
	PublicKey    string `json:"publicKey"`
}

type shareResponse struct {
	ShareCode string    `json:"shareCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) HandleShareCreate(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "share-create", shareCreateLimit) {
		return
	}

	var req createShareRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	_, err := h.shares.Create(r.Context(), interfaces.ShareCode(req.ShareCode), req.SnapshotData, req.PublicKey, clientAddress(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) HandleShareGet(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "share-get", shareGetLimit) {
		return
	}

	resolved, err := h.aliases.Resolve(r.Context(), interfaces.ShareCode(chi.URLParam(r, "code")))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resolved)
}

type updateShareRequest struct {
	SnapshotData string `json:"snapshotData"`
	PublicKey    string `json:"publicKey"`
}

func (h *Handler) HandleShareUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "share-update", shareUpdateLimit) {
		return
	}

	var req updateShareRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	_, err := h.shares.Update(r.Context(), interfaces.ShareCode(chi.URLParam(r, "code")),
		req.SnapshotData, req.PublicKey, r.Header.Get(ownershipSignatureHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) HandleShareDelete(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "share-delete", shareDeleteLimit) {
		return
	}

	err := h.shares.Delete(r.Context(), interfaces.ShareCode(chi.URLParam(r, "code")),
		r.Header.Get(ownershipSignatureHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createExpiringRequest struct {
	MainShareCode string `json:"mainShareCode"`
	DisplayName   string `json:"displayName"`
	ShareNotes    string `json:"shareNotes"`

	// ExpirationDuration is the alias lifetime in seconds.
	ExpirationDuration int64 `json:"expirationDuration"`
}

func (h *Handler) HandleExpiringCreate(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "alias-create", aliasCreateLimit) {
		return
	}

	var req createExpiringRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	record, err := h.aliases.Create(r.Context(), interfaces.ShareCode(req.MainShareCode),
		req.DisplayName, req.ShareNotes, time.Duration(req.ExpirationDuration)*time.Second, clientAddress(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, shareResponse{
		ShareCode: record.ShareCode,
		ExpiresAt: record.ExpiresAt,
	})
}

type expiringListResponse struct {
	ExpiringShares []share.AliasRecord `json:"expiringShares"`
}

func (h *Handler) HandleExpiringList(w http.ResponseWriter, r *http.Request) {
	records, err := h.aliases.List(r.Context(), interfaces.ShareCode(chi.URLParam(r, "code")))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, expiringListResponse{ExpiringShares: records})
}

func (h *Handler) HandleExpiringDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.aliases.Delete(r.Context(), interfaces.ShareCode(chi.URLParam(r, "code"))); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type registerBackupKeyRequest struct {
	BackupKey string `json:"backupKey"`
	PublicKey string `json:"publicKey"`
}

type registerBackupKeyResponse struct {
	BackupKey    string    `json:"backupKey"`
	RegisteredAt time.Time `json:"registeredAt"`
}

func (h *Handler) HandleBackupRegister(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "backup-register", backupRegisterLimit) {
		return
	}

	var req registerBackupKeyRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	registration, err := h.registry.Register(r.Context(), interfaces.BackupKey(req.BackupKey), req.PublicKey, clientAddress(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerBackupKeyResponse{
		BackupKey:    registration.BackupKey,
		RegisteredAt: registration.RegisteredAt,
	})
}

type uploadBackupRequest struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	Checksum string `json:"checksum"`
}

func (h *Handler) HandleBackupUpload(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "backup-upload", backupUploadLimit) {
		return
	}

	var req uploadBackupRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.backups.Upload(r.Context(), interfaces.BackupKey(chi.URLParam(r, "key")),
		interfaces.BackupType(req.Type), req.Data, req.Checksum, r.Header.Get(ownershipSignatureHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) HandleBackupDownload(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "backup-download", backupDownloadLimit) {
		return
	}

	result, err := h.backups.Download(r.Context(), interfaces.BackupKey(chi.URLParam(r, "key")),
		interfaces.BackupType(r.URL.Query().Get("type")))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
