package http

import (
	"encoding/json"
	"net/http"

	"github.com/tradekit/authcore/internal/auth/service"
	"github.com/tradekit/authcore/pkg/httpx"
)

// TwoFactorHandler owns the /auth/2fa endpoints. Setup, verify, disable and
// status run inside an authenticated session; validate and complete-login
// run on the temp token minted at login instead.
type TwoFactorHandler struct {
	TwoFactor     *service.TwoFactorController
	CSRF          *service.CSRFGuard
	SecureCookies bool
}

// HandleSetup handles POST /auth/2fa/setup. The secret and otpauth URL are
// the provisioning payload; this is the only response that ever carries
// them.
func (h *TwoFactorHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, ok := sessionFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	setup, err := h.TwoFactor.Setup(ctx, state.User.ID, state.User.Email)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, setup)
}

type codeRequest struct {
	Code string `json:"code"`
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

// HandleVerify handles POST /auth/2fa/verify: proves possession of the
// enrolled secret and activates the second factor. The recovery codes in the
// response are shown exactly once.
func (h *TwoFactorHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, ok := sessionFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	codes, err := h.TwoFactor.Verify(ctx, state.User.ID, req.Code)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

type validateRequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

type validateResponse struct {
	Valid            bool `json:"valid"`
	RecoveryCodeUsed bool `json:"recoveryCodeUsed"`
}

// HandleValidate handles POST /auth/2fa/validate during login. No session
// exists yet; the temp token from the login response authenticates the
// request.
func (h *TwoFactorHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recoveryUsed, err := h.TwoFactor.ValidateDuringLogin(ctx, req.TempToken, req.Code)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, validateResponse{Valid: true, RecoveryCodeUsed: recoveryUsed})
}

type completeLoginRequest struct {
	TempToken string `json:"tempToken"`
}

// HandleCompleteLogin handles POST /auth/2fa/complete-login: exchanges a
// verified temp token for the parked session and finally sets the cookies
// login withheld.
func (h *TwoFactorHandler) HandleCompleteLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req completeLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, sess, err := h.TwoFactor.CompleteLogin(ctx, req.TempToken)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	setSessionCookies(w, sess.AccessToken, sess.RefreshToken, h.SecureCookies)
	setCSRFCookie(w, h.CSRF.Token(), h.SecureCookies)
	httpx.WriteJSON(w, http.StatusOK, userResponse{User: user.Project()})
}

// HandleDisable handles POST /auth/2fa/disable. Accepts a live TOTP code or
// an unused recovery code as proof of possession.
func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, ok := sessionFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.TwoFactor.Disable(ctx, state.User.ID, req.Code); err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "two-factor authentication disabled"})
}

// HandleStatus handles GET /auth/2fa/status.
func (h *TwoFactorHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, ok := sessionFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	status, err := h.TwoFactor.Status(ctx, state.User.ID)
	if err != nil {
		writeDomainError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, status)
}
