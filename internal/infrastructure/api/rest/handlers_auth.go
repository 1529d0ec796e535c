package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cellmesh/cellmesh/internal/application/auth"
)

// AuthHandler exposes the one endpoint the core itself needs around
// authentication: minting a token for a principal id that some external
// identity check has already vouched for. Verifying credentials is not the
// core's job — callers are expected to sit an upstream identity provider in
// front of this endpoint, or call Broker.IssueToken directly from a trusted
// process.
type AuthHandler struct {
	broker auth.Broker
}

func NewAuthHandler(broker auth.Broker) *AuthHandler {
	return &AuthHandler{broker: broker}
}

type issueTokenRequest struct {
	Principal string `json:"principal" binding:"required"`
}

type issueTokenResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := bindJSON(c, &req); err != nil {
		return
	}
	token, err := h.broker.IssueToken(c.Request.Context(), req.Principal)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, issueTokenResponse{Token: token})
}
