package flows

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// TOTPAccount is the flow-level view of a user's authenticator state.
type TOTPAccount struct {
	UserID        int64
	Username      string
	Email         string
	PendingSecret string
	Enabled       bool
}

// TOTPEnrollment carries the provisioning material for a pending secret.
type TOTPEnrollment struct {
	Secret string
	URI    string
}

type TOTPMetrics struct {
	EnrollmentStarted int
	Enabled           int
	Disabled          int
	Failure           int
}

type TOTPEvents struct {
	EnrollmentStarted string
	Enabled           string
	Disabled          string
	Failure           string
}

type TOTPErrors struct {
	EngineNotReady  error
	UserNotFound    error
	Unavailable     error
	AlreadyEnabled  error
	NotPending      error
	NotEnabled      error
	CodeRequired    error
	Invalid         error
	RateLimited     error
	LastMethodGuard error
}

// TOTPDeps wires enrollment, confirmation and disable.
type TOTPDeps struct {
	Now func() time.Time

	GetAccount        func(context.Context, int64) (TOTPAccount, error)
	SetPendingSecret  func(context.Context, int64, string) error
	Enable            func(ctx context.Context, userID int64, secret string, counter int64, backupHashes [][32]byte) error
	Disable           func(context.Context, int64) error
	OtherMethodExists func(context.Context, int64) (bool, error)

	// IsNotFound and IsNotPending classify store errors from Enable and
	// Disable.
	IsNotFound   func(error) bool
	IsNotPending func(error) bool

	GenerateSecret func(account string) (secret, uri string, err error)
	VerifyCode     func(secret, code string, now time.Time) (bool, int64, error)

	BackupCodes func(userID int64) ([]string, [][32]byte, error)

	CheckLimiter         func(context.Context, int64) error
	RecordLimiterFailure func(context.Context, int64) error
	ResetLimiter         func(context.Context, int64) error
	IsRateLimited        func(error) bool

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, int64, string, error, func() map[string]string)

	Metrics TOTPMetrics
	Events  TOTPEvents
	Errors  TOTPErrors
}

// RunBeginTOTPEnrollment stores a fresh pending secret. Calling it again
// before confirmation replaces the pending secret.
func RunBeginTOTPEnrollment(ctx context.Context, userID int64, deps TOTPDeps) (*TOTPEnrollment, error) {
	normalizeTOTPDeps(&deps)

	if deps.GetAccount == nil || deps.SetPendingSecret == nil || deps.GenerateSecret == nil {
		return nil, deps.Errors.EngineNotReady
	}
	account, err := deps.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.Enabled {
		return nil, deps.Errors.AlreadyEnabled
	}

	label := account.Email
	if label == "" {
		label = account.Username
	}
	if label == "" {
		label = strconv.FormatInt(account.UserID, 10)
	}
	secret, uri, err := deps.GenerateSecret(label)
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	if err := deps.SetPendingSecret(ctx, userID, secret); err != nil {
		return nil, deps.Errors.Unavailable
	}

	deps.MetricInc(deps.Metrics.EnrollmentStarted)
	deps.EmitAudit(ctx, deps.Events.EnrollmentStarted, true, userID, "totp", nil, nil)
	return &TOTPEnrollment{Secret: secret, URI: uri}, nil
}

// RunConfirmTOTPEnrollment promotes the pending secret after one valid code.
// The backup code set is stored in the same write and returned once. The
// write names the secret the code was checked against, so an enrollment
// restarted in the meantime fails with NotPending instead of enabling an
// unproven secret.
func RunConfirmTOTPEnrollment(ctx context.Context, userID int64, code string, deps TOTPDeps) ([]string, error) {
	normalizeTOTPDeps(&deps)

	if deps.GetAccount == nil || deps.Enable == nil || deps.VerifyCode == nil || deps.BackupCodes == nil {
		return nil, deps.Errors.EngineNotReady
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, deps.Errors.CodeRequired
	}
	account, err := deps.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.Enabled {
		return nil, deps.Errors.AlreadyEnabled
	}
	if account.PendingSecret == "" {
		return nil, deps.Errors.NotPending
	}

	if err := deps.CheckLimiter(ctx, userID); err != nil {
		if deps.IsRateLimited(err) {
			return nil, deps.Errors.RateLimited
		}
		return nil, deps.Errors.Unavailable
	}

	ok, counter, err := deps.VerifyCode(account.PendingSecret, code, deps.Now())
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	if !ok {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, userID, "totp", deps.Errors.Invalid, nil)
		_ = deps.RecordLimiterFailure(ctx, userID)
		return nil, deps.Errors.Invalid
	}

	codes, hashes, err := deps.BackupCodes(userID)
	if err != nil {
		return nil, deps.Errors.Unavailable
	}
	if err := deps.Enable(ctx, userID, account.PendingSecret, counter, hashes); err != nil {
		return nil, mapTOTPStoreError(err, deps)
	}
	_ = deps.ResetLimiter(ctx, userID)

	deps.MetricInc(deps.Metrics.Enabled)
	deps.EmitAudit(ctx, deps.Events.Enabled, true, userID, "totp", nil, nil)
	return codes, nil
}

// RunDisableTOTP clears the active secret and backup codes. Callers pass the
// step-up gate before reaching this flow.
func RunDisableTOTP(ctx context.Context, userID int64, deps TOTPDeps) error {
	normalizeTOTPDeps(&deps)

	if deps.GetAccount == nil || deps.Disable == nil || deps.OtherMethodExists == nil {
		return deps.Errors.EngineNotReady
	}
	account, err := deps.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if !account.Enabled {
		return deps.Errors.NotEnabled
	}
	other, err := deps.OtherMethodExists(ctx, userID)
	if err != nil {
		return deps.Errors.Unavailable
	}
	if !other {
		return deps.Errors.LastMethodGuard
	}
	if err := deps.Disable(ctx, userID); err != nil {
		return mapTOTPStoreError(err, deps)
	}

	deps.MetricInc(deps.Metrics.Disabled)
	deps.EmitAudit(ctx, deps.Events.Disabled, true, userID, "totp", nil, nil)
	return nil
}

func mapTOTPStoreError(err error, deps TOTPDeps) error {
	switch {
	case deps.IsNotPending(err):
		return deps.Errors.NotPending
	case deps.IsNotFound(err):
		return deps.Errors.UserNotFound
	default:
		return deps.Errors.Unavailable
	}
}

func normalizeTOTPDeps(deps *TOTPDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CheckLimiter == nil {
		deps.CheckLimiter = func(context.Context, int64) error { return nil }
	}
	if deps.RecordLimiterFailure == nil {
		deps.RecordLimiterFailure = func(context.Context, int64) error { return nil }
	}
	if deps.ResetLimiter == nil {
		deps.ResetLimiter = func(context.Context, int64) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.IsNotPending == nil {
		deps.IsNotPending = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, int64, string, error, func() map[string]string) {}
	}
}
