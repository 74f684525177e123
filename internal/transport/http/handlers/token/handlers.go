package tokenhandler

import (
	"encoding/json"
	"net/http"
	"time"

	"lifecycle/internal/auth"
	"lifecycle/internal/transport/http/api"
	"lifecycle/internal/transport/http/middleware"
)

// Handler exchanges the shared operator key for a short-lived bearer
// token. This is the only unauthenticated API route.
type Handler struct {
	JWTSecret       string
	OperatorKeyHash string
	TokenTTL        time.Duration
}

func NewHandler(jwtSecret, operatorKeyHash string, tokenTTL time.Duration) *Handler {
	return &Handler{JWTSecret: jwtSecret, OperatorKeyHash: operatorKeyHash, TokenTTL: tokenTTL}
}

type tokenRequest struct {
	Operator string `json:"operator"`
	Key      string `json:"key"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", reqID)
		return
	}
	if req.Operator == "" || req.Key == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_request", "operator and key are required", reqID)
		return
	}
	if err := auth.CheckOperatorKey(h.OperatorKeyHash, req.Key); err != nil {
		api.Fail(w, http.StatusUnauthorized, "invalid_key", "operator key rejected", reqID)
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, req.Operator, h.TokenTTL)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "token_issue_failed", "failed to issue token", reqID)
		return
	}
	api.Success(w, tokenResponse{Token: token, ExpiresAt: time.Now().Add(h.TokenTTL)}, reqID)
}
