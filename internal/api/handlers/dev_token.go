// internal/api/handlers/dev_token.go
package handlers

import (
	"net/http"
	"time"

	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/api/httpx"
	"github.com/chandradibyendu-oss/bghs-alumni-sub000/internal/auth"
)

// DevTokenHandler mints access tokens for local testing. The router mounts
// it only when APP_ENV=dev.
type DevTokenHandler struct {
	TM *auth.TokenManager
}

func NewDevTokenHandler(tm *auth.TokenManager) *DevTokenHandler { return &DevTokenHandler{TM: tm} }

type devTokenReq struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

type devTokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

func (h *DevTokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req devTokenReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = "00000000-0000-0000-0000-000000000000"
	}
	if req.Role == "" {
		req.Role = "user"
	}
	tok, exp, err := h.TM.Issue(req.UserID, req.Role)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, devTokenResp{
		AccessToken: tok,
		ExpiresIn:   int64(time.Until(exp).Truncate(time.Second).Seconds()),
	})
}
