// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/account"
	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/errs"
	"github.com/filedepot/filedepot/internal/files"
	"github.com/filedepot/filedepot/internal/folders"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/property"
	"github.com/filedepot/filedepot/internal/search"
	"github.com/filedepot/filedepot/internal/trash"
)

// Server is the HTTP server.
type Server struct {
	accounts      *account.Service
	folders       *folders.Service
	files         *files.Service
	trash         *trash.Service
	properties    *property.Service
	search        *search.Service
	auth          *auth.Auth
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(
	accounts *account.Service,
	folderSvc *folders.Service,
	fileSvc *files.Service,
	trashSvc *trash.Service,
	propertySvc *property.Service,
	searchSvc *search.Service,
	authHandler *auth.Auth,
	maxUploadSize int64,
) *Server {
	return &Server{
		accounts:      accounts,
		folders:       folderSvc,
		files:         fileSvc,
		trash:         trashSvc,
		properties:    propertySvc,
		search:        searchSvc,
		auth:          authHandler,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/owners", s.handleRegister)
	mux.HandleFunc("GET /api/v1/download", s.handleTokenDownload)

	// Protected endpoints
	protected := http.NewServeMux()

	protected.HandleFunc("GET /api/v1/owners/me", s.handleGetOwner)
	protected.HandleFunc("PATCH /api/v1/owners/me", s.handleUpdateOwner)
	protected.HandleFunc("DELETE /api/v1/owners/me", s.handleDeleteOwner)

	protected.HandleFunc("GET /api/v1/folders/root", s.handleRootFolder)
	protected.HandleFunc("GET /api/v1/folders/root/items", s.handleRootItems)
	protected.HandleFunc("POST /api/v1/folders", s.handleCreateFolder)
	protected.HandleFunc("GET /api/v1/folders/{id}", s.handleGetFolder)
	protected.HandleFunc("GET /api/v1/folders/{id}/items", s.handleFolderItems)
	protected.HandleFunc("PATCH /api/v1/folders/{id}", s.handleUpdateFolder)
	protected.HandleFunc("DELETE /api/v1/folders/{id}", s.handleDeleteFolder)

	protected.HandleFunc("POST /api/v1/files", s.handleUpload)
	protected.HandleFunc("GET /api/v1/files/{id}", s.handleGetFile)
	protected.HandleFunc("GET /api/v1/files/{id}/content", s.handleFileContent)
	protected.HandleFunc("PATCH /api/v1/files/{id}", s.handleUpdateFile)
	protected.HandleFunc("DELETE /api/v1/files/{id}", s.handleDeleteFile)
	protected.HandleFunc("POST /api/v1/files/{id}/token", s.handleIssueFileToken)

	protected.HandleFunc("GET /api/v1/files/{id}/properties", s.handleListProperties)
	protected.HandleFunc("PUT /api/v1/files/{id}/properties", s.handleSaveProperties)
	protected.HandleFunc("DELETE /api/v1/files/{id}/properties", s.handleDeleteProperties)

	protected.HandleFunc("GET /api/v1/trash", s.handleTrashItems)
	protected.HandleFunc("DELETE /api/v1/trash", s.handleEmptyTrash)

	protected.HandleFunc("GET /api/v1/search", s.handleSearch)
	protected.HandleFunc("GET /api/v1/recent", s.handleRecent)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	return metrics.Middleware(mux)
}

// ─── Health ──────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Owners ──────────────────────────────────────────────────────────────────

type ownerResponse struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	DateCreated  time.Time `json:"dateCreated"`
	DateModified time.Time `json:"dateModified"`
}

func mapOwner(o *metadata.Owner) ownerResponse {
	return ownerResponse{
		ID:           o.ID,
		Email:        o.Email,
		FirstName:    o.FirstName,
		LastName:     o.LastName,
		DateCreated:  o.DateCreated,
		DateModified: o.DateModified,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "email and password required")
		return
	}

	owner, err := s.accounts.Create(r.Context(), account.Registration{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, mapOwner(owner))
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	owner, err := s.accounts.Get(r.Context(), claims.OwnerID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, mapOwner(owner))
}

func (s *Server) handleUpdateOwner(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	var req struct {
		Email     *string `json:"email"`
		Password  *string `json:"password"`
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner, err := s.accounts.Update(r.Context(), claims.OwnerID, account.Update{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, mapOwner(owner))
}

func (s *Server) handleDeleteOwner(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if err := s.accounts.Delete(r.Context(), claims.OwnerID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Folders ─────────────────────────────────────────────────────────────────

func (s *Server) handleRootFolder(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	meta, err := s.folders.Root(r.Context(), claims.OwnerID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleRootItems(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	items, err := s.folders.RootItems(r.Context(), claims.OwnerID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID int64  `json:"parentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}
	if !s.ownsFolder(w, r, req.ParentID) {
		return
	}

	meta, err := s.folders.Create(r.Context(), req.Name, req.ParentID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	meta, err := s.folders.Get(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if !s.ownedBy(w, r, meta.OwnerID, errs.KindFolder, id) {
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleFolderItems(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if !s.ownsFolder(w, r, id) {
		return
	}
	items, err := s.folders.Items(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, items)
}

func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name     *string `json:"name"`
		ParentID *int64  `json:"parentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.ownsFolder(w, r, id) {
		return
	}
	if req.ParentID != nil && !s.ownsFolder(w, r, *req.ParentID) {
		return
	}

	meta, err := s.folders.Update(r.Context(), id, req.ParentID, req.Name)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if !s.ownsFolder(w, r, id) {
		return
	}

	var err error
	if r.URL.Query().Get("permanent") == "true" {
		err = s.folders.DeletePermanent(r.Context(), id)
	} else {
		err = s.folders.Disconnect(r.Context(), id)
	}
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Files ───────────────────────────────────────────────────────────────────

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	parentID, err := strconv.ParseInt(r.URL.Query().Get("parentId"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "parentId required")
		return
	}
	if !s.ownsFolder(w, r, parentID) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	// Multipart form upload with the content in a "file" part, or a raw
	// body with the name passed as a query parameter.
	var name string
	var content = r.Body
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		part, header, err := r.FormFile("file")
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "missing file part")
			return
		}
		defer part.Close()
		name = header.Filename
		content = part
	} else {
		name = r.URL.Query().Get("name")
	}
	if name == "" {
		s.sendError(w, http.StatusBadRequest, "file name required")
		return
	}

	meta, err := s.files.Save(r.Context(), name, parentID, content)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	meta, err := s.files.Metadata(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if !s.ownedBy(w, r, meta.OwnerID, errs.KindFile, id) {
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if !s.ownsFile(w, r, id) {
		return
	}
	meta, rc, err := s.files.Content(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	defer rc.Close()
	s.serveContent(w, r, meta, rc)
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name     *string `json:"name"`
		ParentID *int64  `json:"parentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.ownsFile(w, r, id) {
		return
	}
	if req.ParentID != nil && !s.ownsFolder(w, r, *req.ParentID) {
		return
	}

	meta, err := s.files.Update(r.Context(), id, req.ParentID, req.Name)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if !s.ownsFile(w, r, id) {
		return
	}

	var err error
	if r.URL.Query().Get("permanent") == "true" {
		err = s.files.DeletePermanent(r.Context(), id)
	} else {
		err = s.files.Disconnect(r.Context(), id)
	}
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIssueFileToken(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if !s.ownsFile(w, r, id) {
		return
	}
	tokenStr, err := s.files.IssueToken(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]string{"token": tokenStr})
}

// handleTokenDownload serves file content to whoever presents a valid
// download token. No session is required.
func (s *Server) handleTokenDownload(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		s.sendError(w, http.StatusBadRequest, "token required")
		return
	}
	meta, rc, err := s.files.ContentByToken(r.Context(), tokenStr)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	defer rc.Close()
	s.serveContent(w, r, meta, rc)
}

// ─── Properties ──────────────────────────────────────────────────────────────

type propertyResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func mapProperties(props []metadata.Property) []propertyResponse {
	out := make([]propertyResponse, 0, len(props))
	for _, p := range props {
		out = append(out, propertyResponse{Key: p.Key, Value: p.Value})
	}
	return out
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if !s.ownsFile(w, r, id) {
		return
	}
	props, err := s.properties.List(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, mapProperties(props))
}

func (s *Server) handleSaveProperties(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var pairs map[string]string
	if err := json.NewDecoder(r.Body).Decode(&pairs); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.ownsFile(w, r, id) {
		return
	}
	props, err := s.properties.Save(r.Context(), id, pairs)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, mapProperties(props))
}

func (s *Server) handleDeleteProperties(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if !s.ownsFile(w, r, id) {
		return
	}
	if err := s.properties.DeleteAll(r.Context(), id); err != nil {
		s.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Trash ───────────────────────────────────────────────────────────────────

func (s *Server) handleTrashItems(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	items, err := s.trash.Items(r.Context(), claims.OwnerID)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, items)
}

func (s *Server) handleEmptyTrash(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if err := s.trash.Empty(r.Context(), claims.OwnerID); err != nil {
		s.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Search ──────────────────────────────────────────────────────────────────

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	filter := metadata.ItemFilter{
		OwnerID:  claims.OwnerID,
		Name:     r.URL.Query().Get("name"),
		MimeType: r.URL.Query().Get("mimeType"),
	}
	if raw := r.URL.Query().Get("parentId"); raw != "" {
		parentID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid parentId")
			return
		}
		filter.ParentID = &parentID
	}

	items, err := s.search.Find(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, items)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	after := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
		after = parsed
	}

	items, err := s.search.Recent(r.Context(), claims.OwnerID, after)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, items)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// ownsFolder verifies the folder belongs to the session owner. Items
// of other owners are reported as not found.
func (s *Server) ownsFolder(w http.ResponseWriter, r *http.Request, id int64) bool {
	meta, err := s.folders.Get(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return false
	}
	return s.ownedBy(w, r, meta.OwnerID, errs.KindFolder, id)
}

func (s *Server) ownsFile(w http.ResponseWriter, r *http.Request, id int64) bool {
	meta, err := s.files.Metadata(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return false
	}
	return s.ownedBy(w, r, meta.OwnerID, errs.KindFile, id)
}

func (s *Server) ownedBy(w http.ResponseWriter, r *http.Request, ownerID int64, kind string, id int64) bool {
	claims := auth.GetClaims(r.Context())
	if claims == nil || claims.OwnerID != ownerID {
		s.sendServiceError(w, errs.NotFound(kind, id))
		return false
	}
	return true
}

func (s *Server) serveContent(w http.ResponseWriter, r *http.Request, meta *metadata.Metadata, rc io.Reader) {
	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.Name+`"`)
	if meta.Size != nil {
		w.Header().Set("Content-Length", strconv.FormatInt(*meta.Size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		logging.Warn("content transfer interrupted",
			zap.Int64("file_id", meta.ID), zap.Error(err))
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// sendServiceError maps service errors onto HTTP status codes.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errs.IsNotFound(err):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errs.IsQuotaExceeded(err):
		s.sendError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, errs.ErrCircularReference),
		errors.Is(err, errs.ErrRootFolderImmutable):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrEmailExists),
		errors.Is(err, errs.ErrVersionConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrTokenExpired),
		errors.Is(err, errs.ErrTokenInvalid):
		s.sendError(w, http.StatusUnauthorized, err.Error())
	default:
		logging.Error("request failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  code,
	})
}
