package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/middleware"
)

// Children records child ownership.
type Children interface {
	AddChild(ctx context.Context, childID, parentID string) error
	ChildrenOf(ctx context.Context, parentID string) ([]string, error)
}

// Grants writes access grants.
type Grants interface {
	Grant(ctx context.Context, professionalID, childID string, at time.Time) error
	Revoke(ctx context.Context, professionalID, childID string, at time.Time) (bool, error)
}

type handler struct {
	engine   *guardian.Engine
	children Children
	grants   Grants
	validate *validator.Validate
	logger   *slog.Logger
}

type registerRequest struct {
	Email    string            `json:"email" validate:"required,email,max=254"`
	Password string            `json:"password" validate:"required,max=256"`
	Role     string            `json:"role" validate:"required,oneof=parent professional admin"`
	Profile  map[string]string `json:"profile" validate:"omitempty,max=32"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type verifyRequest struct {
	Token string `json:"token" validate:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required,max=256"`
}

type grantRequest struct {
	ProfessionalID string `json:"professional_id" validate:"required"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type userResponse struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Role      string            `json:"role"`
	Status    string            `json:"status"`
	Profile   map[string]string `json:"profile,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Client    string    `json:"client,omitempty"`
}

func toTokens(p *guardian.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// decode reads and validates a JSON body, answering 400 on failure.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

// withClient attaches the caller address for per-address limits and audit.
func withClient(r *http.Request) context.Context {
	ctx := guardian.WithClientIP(r.Context(), clientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = guardian.WithClientMetadata(ctx, ua)
	}
	return ctx
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.engine.Register(withClient(r), guardian.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Role:     guardian.Role(req.Role),
		Profile:  req.Profile,
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Data: userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		Status:    string(u.Status),
		Profile:   u.Profile,
		CreatedAt: u.CreatedAt,
	}})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.engine.Authenticate(withClient(r), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: toTokens(pair)})
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.engine.Refresh(withClient(r), req.RefreshToken)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: toTokens(pair)})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Logout(withClient(r), req.RefreshToken); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := h.engine.LogoutAll(withClient(r), claims.Subject); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	sessions, err := h.engine.ListActiveSessions(r.Context(), claims.Subject)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{ID: s.SessionID, IssuedAt: s.IssuedAt, ExpiresAt: s.ExpiresAt, Client: s.Client})
	}
	writeJSON(w, http.StatusOK, response{Data: out})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := h.engine.ChangePassword(withClient(r), claims.Subject, req.OldPassword, req.NewPassword); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestVerification issues a verification token. Delivery is out of
// band; the token is logged at debug level for development setups.
func (h *handler) requestVerification(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	token, err := h.engine.RequestVerification(withClient(r), claims.Subject)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	h.logger.DebugContext(r.Context(), "verification token issued",
		slog.String("user_id", claims.Subject),
		slog.String("token", token),
	)
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) confirmVerification(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.ConfirmVerification(withClient(r), req.Token); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) createChild(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	id := uuid.NewString()
	if err := h.children.AddChild(r.Context(), id, claims.Subject); err != nil {
		writeAppError(w, r, h.logger, guardian.ErrDependencyUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, response{Data: map[string]string{"id": id}})
}

func (h *handler) listChildren(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	ids, err := h.children.ChildrenOf(r.Context(), claims.Subject)
	if err != nil {
		writeAppError(w, r, h.logger, guardian.ErrDependencyUnavailable)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, response{Data: ids})
}

func (h *handler) getChild(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Data: map[string]string{"id": chi.URLParam(r, "childID")}})
}

func (h *handler) grantAccess(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.decode(w, r, &req) {
		return
	}
	childID := chi.URLParam(r, "childID")
	if err := h.grants.Grant(r.Context(), req.ProfessionalID, childID, time.Now()); err != nil {
		writeAppError(w, r, h.logger, guardian.ErrDependencyUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) revokeAccess(w http.ResponseWriter, r *http.Request) {
	childID := chi.URLParam(r, "childID")
	ok, err := h.grants.Revoke(r.Context(), chi.URLParam(r, "professionalID"), childID, time.Now())
	if err != nil {
		writeAppError(w, r, h.logger, guardian.ErrDependencyUnavailable)
		return
	}
	if !ok {
		writeAppError(w, r, h.logger, guardian.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminTransition serves the suspend, reinstate and unlock endpoints.
func (h *handler) adminTransition(fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(withClient(r), chi.URLParam(r, "userID")); err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
