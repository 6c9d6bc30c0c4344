package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/codecaptcha/internal/challenge"
	"github.com/ashureev/codecaptcha/internal/identity"
	"github.com/ashureev/codecaptcha/internal/keys"
	"github.com/ashureev/codecaptcha/internal/metrics"
	"github.com/ashureev/codecaptcha/internal/proof"
)

// ChallengeService is the lifecycle the handlers drive.
type ChallengeService interface {
	Create(ctx context.Context, website, sessionID string) (uuid.UUID, error)
	Reveal(ctx context.Context, id uuid.UUID) (string, []int, error)
	Submit(ctx context.Context, id uuid.UUID, answers []int, issuer string) (string, error)
}

// ChallengeHandler serves the /api/challenge routes.
type ChallengeHandler struct {
	svc       ChallengeService
	publicKey keys.Key
	publicPEM []byte
	issuer    string
	leeway    time.Duration
	metrics   *metrics.Metrics
}

// ChallengeConfig holds handler settings. An empty Issuer uses the request Host.
type ChallengeConfig struct {
	PublicKey keys.Key
	Issuer    string
	Leeway    time.Duration
	Metrics   *metrics.Metrics
}

// NewChallengeHandler builds the handler and pre-encodes the public key.
func NewChallengeHandler(svc ChallengeService, cfg ChallengeConfig) (*ChallengeHandler, error) {
	pemBytes, err := keys.Encode(cfg.PublicKey.Public())
	if err != nil {
		return nil, err
	}
	return &ChallengeHandler{
		svc:       svc,
		publicKey: cfg.PublicKey.Public(),
		publicPEM: pemBytes,
		issuer:    cfg.Issuer,
		leeway:    cfg.Leeway,
		metrics:   cfg.Metrics,
	}, nil
}

// RegisterRoutes registers challenge routes.
func (h *ChallengeHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/challenge", func(r chi.Router) {
		r.Post("/generate-challenge", h.Generate)
		r.Get("/get-challenge/{challenge_id}", h.Get)
		r.Post("/submit-challenge", h.Submit)
		r.Get("/get-public-key", h.PublicKey)
		r.Post("/verify-token", h.VerifyToken)
	})
}

type generateRequest struct {
	Website   string `json:"website"`
	SessionID string `json:"session_id"`
}

type generateResponse struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
}

// Generate creates a challenge for a website and session.
func (h *ChallengeHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = identity.SessionIDFromContext(r.Context())
	}

	id, err := h.svc.Create(r.Context(), req.Website, req.SessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, generateResponse{ChallengeID: id})
}

type getResponse struct {
	Question string `json:"question"`
	Tasks    []int  `json:"tasks"`
}

// Get reveals the question and tasks. Expected answers are never returned.
func (h *ChallengeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "challenge_id"))
	if err != nil {
		Error(w, http.StatusNotFound, CodeNotFound, "Challenge not found.")
		return
	}
	question, tasks, err := h.svc.Reveal(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, getResponse{Question: question, Tasks: tasks})
}

type submitRequest struct {
	ChallengeID string `json:"challenge_id"`
	Answers     []int  `json:"answers"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Submit exchanges correct answers for a proof token.
func (h *ChallengeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Answers == nil {
		Error(w, http.StatusBadRequest, CodeInvalidRequest, "answers must be a list of integers")
		return
	}
	id, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		Error(w, http.StatusNotFound, CodeNotFound, "Challenge not found.")
		return
	}

	token, err := h.svc.Submit(r.Context(), id, req.Answers, identity.IssuerFromRequest(r, h.issuer))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, tokenResponse{Token: token})
}

// PublicKey serves the verification key as PEM.
func (h *ChallengeHandler) PublicKey(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="public.pem"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.publicPEM); err != nil {
		slog.Debug("failed to write public key", "error", err)
	}
}

type verifyRequest struct {
	Token   string `json:"token"`
	Website string `json:"website"`
}

type verifyResponse struct {
	Valid       bool           `json:"valid"`
	ChallengeID string         `json:"challenge_id"`
	Audience    []string       `json:"audience"`
	Issuer      string         `json:"issuer"`
	IssuedAt    time.Time      `json:"issued_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// VerifyToken checks a proof token on behalf of a site backend.
func (h *ChallengeHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	audiences := identity.AudienceVariants(req.Website)
	if req.Token == "" || len(audiences) == 0 {
		Error(w, http.StatusBadRequest, CodeInvalidRequest, "token and website are required")
		return
	}

	verifier, err := proof.NewVerifier(h.publicKey, proof.VerifierOptions{
		Issuer: identity.IssuerFromRequest(r, h.issuer),
		Leeway: h.leeway,
	})
	if err != nil {
		slog.Error("failed to build verifier", "error", err)
		Error(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	claims, err := verifier.Verify(req.Token, audiences...)
	h.metrics.Verification(err == nil)
	if err != nil {
		slog.Info("token rejected", "error", err, "ip", identity.IPFromRequest(r))
		Error(w, http.StatusUnauthorized, CodeUnauthenticated, "Token is not valid.")
		return
	}
	JSON(w, http.StatusOK, verifyResponse{
		Valid:       true,
		ChallengeID: claims.ChallengeID,
		Audience:    claims.Audience,
		Issuer:      claims.Issuer,
		IssuedAt:    claims.IssuedAt,
		ExpiresAt:   claims.ExpiresAt,
		Extra:       claims.Extra,
	})
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, err.Error())
		return
	}
	Error(w, http.StatusBadRequest, CodeInvalidRequest, "malformed request body")
}

func (h *ChallengeHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, challenge.ErrInvalidRequest):
		Error(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, challenge.ErrNotFound):
		Error(w, http.StatusNotFound, CodeNotFound, "Challenge not found.")
	case errors.Is(err, challenge.ErrIncorrect):
		Error(w, http.StatusBadRequest, CodeIncorrect, "Challenge not solved correctly.")
	case errors.Is(err, challenge.ErrConsumed):
		Error(w, http.StatusForbidden, CodeConsumed, "Challenge already used.")
	case errors.Is(err, challenge.ErrExpired):
		Error(w, http.StatusGone, CodeExpired, "Challenge expired, request a new one.")
	default:
		slog.Error("challenge request failed", "error", err, "path", r.URL.Path, "ip", identity.IPFromRequest(r))
		Error(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
