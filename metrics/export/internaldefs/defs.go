package internaldefs

import (
	goReauth "github.com/MrEthical07/goReauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goReauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goReauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goReauth.MetricSessionIssued, Name: "goreauth_session_issued_total", Help: "Sessions issued with a new activation lineage."},
	{ID: goReauth.MetricSessionRefreshed, Name: "goreauth_session_refreshed_total", Help: "Session tokens re-signed within their lineage."},
	{ID: goReauth.MetricSessionVerifyFailed, Name: "goreauth_session_verify_failed_total", Help: "Session tokens that failed verification."},
	{ID: goReauth.MetricSessionRevokedDetected, Name: "goreauth_session_revoked_detected_total", Help: "Tokens presented after their activation stamp was replaced."},
	{ID: goReauth.MetricActivationBumped, Name: "goreauth_activation_bumped_total", Help: "Activation stamp replacements."},
	{ID: goReauth.MetricLoginFailure, Name: "goreauth_login_failure_total", Help: "Failed password logins."},
	{ID: goReauth.MetricReauthVerified, Name: "goreauth_reauth_verified_total", Help: "Successful reauthentication attempts."},
	{ID: goReauth.MetricReauthRejected, Name: "goreauth_reauth_rejected_total", Help: "Rejected reauthentication attempts."},
	{ID: goReauth.MetricReauthRateLimited, Name: "goreauth_reauth_rate_limited_total", Help: "Reauthentication attempts refused by the attempt limiter."},
	{ID: goReauth.MetricReauthMethodUnsupported, Name: "goreauth_reauth_method_unsupported_total", Help: "Reauthentication attempts naming an unavailable method."},
	{ID: goReauth.MetricChallengeIssued, Name: "goreauth_challenge_issued_total", Help: "Reauth challenges issued."},
	{ID: goReauth.MetricChallengeConsumed, Name: "goreauth_challenge_consumed_total", Help: "Reauth challenges consumed by gated actions."},
	{ID: goReauth.MetricStepUpRequired, Name: "goreauth_step_up_required_total", Help: "Gated actions refused for lack of a valid challenge."},
	{ID: goReauth.MetricTOTPEnrollmentStarted, Name: "goreauth_totp_enrollment_started_total", Help: "TOTP enrollments started."},
	{ID: goReauth.MetricTOTPEnabled, Name: "goreauth_totp_enabled_total", Help: "TOTP enrollments confirmed."},
	{ID: goReauth.MetricTOTPDisabled, Name: "goreauth_totp_disabled_total", Help: "TOTP disable operations."},
	{ID: goReauth.MetricTOTPFailure, Name: "goreauth_totp_failure_total", Help: "TOTP codes that did not match."},
	{ID: goReauth.MetricTOTPReplay, Name: "goreauth_totp_replay_total", Help: "TOTP codes presented for an already used time step."},
	{ID: goReauth.MetricBackupCodeUsed, Name: "goreauth_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goReauth.MetricBackupCodeFailed, Name: "goreauth_backup_code_failed_total", Help: "Backup codes that matched nothing."},
	{ID: goReauth.MetricBackupCodeRegenerated, Name: "goreauth_backup_code_regenerated_total", Help: "Backup code sets issued."},
	{ID: goReauth.MetricPasswordChanged, Name: "goreauth_password_changed_total", Help: "Password changes."},
	{ID: goReauth.MetricProviderLinked, Name: "goreauth_provider_linked_total", Help: "Identity providers linked."},
	{ID: goReauth.MetricProviderUnlinked, Name: "goreauth_provider_unlinked_total", Help: "Identity providers unlinked."},
	{ID: goReauth.MetricPasskeyRegistered, Name: "goreauth_passkey_registered_total", Help: "Passkeys registered."},
	{ID: goReauth.MetricPasskeyRemoved, Name: "goreauth_passkey_removed_total", Help: "Passkeys removed."},
	{ID: goReauth.MetricSessionsRevoked, Name: "goreauth_sessions_revoked_total", Help: "Explicit revoke-all-sessions operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: goReauth.MetricSessionVerifyLatency, Name: "goreauth_session_verify_latency_seconds", Help: "Session verification latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "goreauth_audit_dropped_total"

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
