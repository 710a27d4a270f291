package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/middleware"
	"github.com/MrEthical07/goReauth/result"
	"github.com/go-chi/chi/v5"
)

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		result.WriteError(w, fmt.Errorf("%w: malformed body", goReauth.ErrInvalidRequest))
		return false
	}
	return true
}

// fail writes err, logging only what the client cannot act on.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch goReauth.KindOf(err) {
	case goReauth.KindUnavailable, goReauth.KindInternal:
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	result.WriteError(w, err)
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, tokenResponse(res))
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromContext(r.Context())
	res, err := a.engine.RefreshSession(r.Context(), token)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, tokenResponse(res))
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	result.WriteOK(w, http.StatusOK, claims(r))
}

func (a *api) methods(w http.ResponseWriter, r *http.Request) {
	methods, err := a.engine.VerificationMethods(r.Context(), claims(r).UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, MethodsResponse{Methods: methods})
}

func (a *api) verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decode(w, r, &req) {
		return
	}
	proof, ok := req.Proof()
	if !ok {
		result.WriteError(w, fmt.Errorf("%w: unknown method %q", goReauth.ErrMethodUnsupported, req.Method))
		return
	}
	ch, err := a.engine.Reauthenticate(r.Context(), claims(r).UserID, proof)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, ChallengeResponse{
		ChallengeID: ch.ID,
		Method:      ch.Method,
		ExpiresAt:   ch.ExpiresAt,
	})
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	ch, err := a.engine.ReauthStatus(r.Context(), claims(r).UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := StatusResponse{}
	if ch != nil && !ch.Consumed {
		exp := ch.ExpiresAt
		out = StatusResponse{Active: true, Method: ch.Method, ExpiresAt: &exp}
	}
	result.WriteOK(w, http.StatusOK, out)
}

func (a *api) changePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.ChangePassword(r.Context(), claims(r).UserID, challengeID(r), req.NewPassword)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, tokenResponse(res))
}

func (a *api) revokeSessions(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.RevokeSessions(r.Context(), claims(r).UserID, challengeID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, tokenResponse(res))
}

func (a *api) totpStatus(w http.ResponseWriter, r *http.Request) {
	state, err := a.engine.TOTPStatus(r.Context(), claims(r).UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, TOTPStatusResponse{State: state.String()})
}

func (a *api) beginTOTP(w http.ResponseWriter, r *http.Request) {
	enrollment, err := a.engine.BeginTOTPEnrollment(r.Context(), claims(r).UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	result.WriteOK(w, http.StatusOK, enrollment)
}

func (a *api) confirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req ConfirmTOTPRequest
	if !decode(w, r, &req) {
		return
	}
	codes, err := a.engine.ConfirmTOTPEnrollment(r.Context(), claims(r).UserID, req.Code)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	result.WriteOK(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

func (a *api) disableTOTP(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DisableTOTP(r.Context(), claims(r).UserID, challengeID(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, TOTPStatusResponse{State: goReauth.TOTPDisabled.String()})
}

func (a *api) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := a.engine.RegenerateBackupCodes(r.Context(), claims(r).UserID, challengeID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	result.WriteOK(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

func (a *api) linkProvider(w http.ResponseWriter, r *http.Request) {
	var req LinkProviderRequest
	if !decode(w, r, &req) {
		return
	}
	linked, err := a.engine.LinkProvider(r.Context(), claims(r).UserID, req.Provider, req.Assertion)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusCreated, linked)
}

func (a *api) unlinkProvider(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := a.engine.UnlinkProvider(r.Context(), claims(r).UserID, challengeID(r), provider); err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, RemovedResponse{Removed: true})
}

func (a *api) registerPasskey(w http.ResponseWriter, r *http.Request) {
	var req RegisterPasskeyRequest
	if !decode(w, r, &req) {
		return
	}
	cred, err := a.engine.RegisterPasskey(r.Context(), claims(r).UserID, challengeID(r), req.Name, req.PublicKey)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusCreated, cred)
}

func (a *api) removePasskey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.engine.RemovePasskey(r.Context(), claims(r).UserID, challengeID(r), id); err != nil {
		a.fail(w, r, err)
		return
	}
	result.WriteOK(w, http.StatusOK, RemovedResponse{Removed: true})
}
