package shareapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unistay/roomshare/internal/app/identity"
	platformauth "github.com/unistay/roomshare/internal/platform/auth"
	"github.com/unistay/roomshare/internal/roomshare"
)

type Handler struct {
	Service       *Service
	Identity      *identity.Service
	AllowedOrigin string
}

func NewHandler(service *Service, identitySvc *identity.Service, allowedOrigin string) *Handler {
	return &Handler{
		Service:       service,
		Identity:      identitySvc,
		AllowedOrigin: allowedOrigin,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Put("/api/v1/profile", h.handleSaveProfile)
		authR.Get("/api/v1/profile", h.handleGetProfile)

		authR.Post("/api/v1/shares", h.handleCreateShare)
		authR.Get("/api/v1/shares/{shareID}", h.handleGetShare)
		authR.Put("/api/v1/shares/{shareID}/costs", h.handleUpdateCosts)
		authR.Post("/api/v1/shares/{shareID}/cancel", h.handleCancelShare)
		authR.Post("/api/v1/shares/{shareID}/complete", h.handleCompleteShare)

		authR.Post("/api/v1/shares/{shareID}/applications", h.handleSubmitApplication)
		authR.Post("/api/v1/shares/{shareID}/applications/{applicationID}/response", h.handleRespond)
		authR.Post("/api/v1/shares/{shareID}/applications/{applicationID}/withdraw", h.handleWithdraw)
		authR.Delete("/api/v1/shares/{shareID}/participants/{userID}", h.handleRemoveParticipant)

		authR.Get("/api/v1/matches", h.handleFindMatches)
	})

	return r
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createShareRequest struct {
	PropertyID      string                       `json:"property_id"`
	MaxParticipants int                          `json:"max_participants"`
	Requirements    roomshare.RequirementProfile `json:"requirements"`
	Costs           roomshare.CostInputs         `json:"costs"`
	AvailableFrom   time.Time                    `json:"available_from"`
	AvailableTill   *time.Time                   `json:"available_till,omitempty"`
}

type submitApplicationRequest struct {
	Message string `json:"message"`
}

type respondRequest struct {
	Accept  bool   `json:"accept"`
	Message string `json:"message"`
}

type applicationResponse struct {
	Share       *roomshare.Share       `json:"share"`
	Application *roomshare.Application `json:"application"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, identity.ErrInvalidPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				h.writeError(w, http.StatusConflict, "username already exists")
				return
			}
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	resp, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req roomshare.ApplicantProfile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	profile, err := h.Identity.SaveProfile(r.Context(), claims.Subject, req)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidGender),
			errors.Is(err, identity.ErrInvalidAge),
			errors.Is(err, identity.ErrInvalidBudget):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	profile, err := h.Identity.ApplicantProfile(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrProfileNotFound) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	share, err := h.Service.CreateShare(r.Context(), claims.Subject, CreateShareParams{
		PropertyID:      req.PropertyID,
		MaxParticipants: req.MaxParticipants,
		Requirements:    req.Requirements,
		CostInputs:      req.Costs,
		AvailableFrom:   req.AvailableFrom,
		AvailableTill:   req.AvailableTill,
	})
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, share)
}

func (h *Handler) handleGetShare(w http.ResponseWriter, r *http.Request) {
	share, err := h.Service.GetShare(r.Context(), chi.URLParam(r, "shareID"))
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req submitApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	share, application, err := h.Service.SubmitApplication(r.Context(), claims.Subject, chi.URLParam(r, "shareID"), req.Message)
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, applicationResponse{Share: share, Application: application})
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	share, err := h.Service.RespondToApplication(r.Context(), claims.Subject,
		chi.URLParam(r, "shareID"), chi.URLParam(r, "applicationID"), req.Accept, req.Message)
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	share, err := h.Service.WithdrawApplication(r.Context(), claims.Subject,
		chi.URLParam(r, "shareID"), chi.URLParam(r, "applicationID"))
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	share, err := h.Service.RemoveParticipant(r.Context(), claims.Subject,
		chi.URLParam(r, "shareID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) handleCancelShare(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	share, err := h.Service.CancelShare(r.Context(), claims.Subject, chi.URLParam(r, "shareID"))
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) handleCompleteShare(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	share, err := h.Service.CompleteShare(r.Context(), claims.Subject, chi.URLParam(r, "shareID"))
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) handleUpdateCosts(w http.ResponseWriter, r *http.Request) {
	var req roomshare.CostInputs
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	share, err := h.Service.UpdateCosts(r.Context(), claims.Subject, chi.URLParam(r, "shareID"), req)
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, share)
}

func (h *Handler) handleFindMatches(w http.ResponseWriter, r *http.Request) {
	filters, err := matchFiltersFromQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	claims := claimsFromContext(r.Context())
	matches, err := h.Service.FindMatches(r.Context(), claims.Subject, filters)
	if err != nil {
		h.writeShareError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func matchFiltersFromQuery(r *http.Request) (roomshare.MatchFilters, error) {
	var filters roomshare.MatchFilters
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("max_budget")); raw != "" {
		budget, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || budget < 0 {
			return filters, errors.New("max_budget must be a non-negative integer")
		}
		filters.MaxBudget = budget
	}
	if raw := strings.TrimSpace(q.Get("move_in_date")); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filters, errors.New("move_in_date must be formatted as YYYY-MM-DD")
		}
		filters.MoveInDate = date
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filters, errors.New("limit must be a positive integer")
		}
		filters.Limit = limit
	}
	filters.Gender = q.Get("gender")
	return filters, nil
}

// writeShareError maps domain and storage errors onto HTTP statuses. The
// accept-on-full case lands here as ErrRoomFull after the rejection was
// already persisted.
func (h *Handler) writeShareError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roomshare.ErrInvalidCapacity),
		errors.Is(err, roomshare.ErrInvalidAgeRange),
		errors.Is(err, roomshare.ErrInvalidAvailability),
		errors.Is(err, roomshare.ErrMessageTooLong):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrProfileNotFound):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, roomshare.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrShareNotFound),
		errors.Is(err, roomshare.ErrNotFound),
		errors.Is(err, roomshare.ErrApplicationNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, roomshare.ErrRoomFull),
		errors.Is(err, roomshare.ErrDuplicateApplication),
		errors.Is(err, roomshare.ErrShareClosed),
		errors.Is(err, roomshare.ErrInvalidState),
		errors.Is(err, ErrVersionConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin())
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOrigin() string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" {
		return "*"
	}
	return allowed
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Identity.AuthToken.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
