package reauthclient

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
)

// SurfaceMode selects which flow the verification surface serves.
type SurfaceMode string

const (
	ModeReauth    SurfaceMode = "reauth"
	ModeSSOBind   SurfaceMode = "sso-bind"
	ModeSSOReauth SurfaceMode = "sso-reauth"
)

func (m SurfaceMode) valid() bool {
	return m == ModeReauth || m == ModeSSOBind || m == ModeSSOReauth
}

// Query parameters the surface reads and writes.
const (
	ParamMode      = "mode"
	ParamStatus    = "status"
	ParamError     = "error"
	ParamProvider  = "provider"
	ParamAssertion = "assertion"
)

// Return statuses written by a provider callback.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var ErrBadSurfaceURL = errors.New("reauthclient: malformed surface url")

// SurfaceURL adds mode and extra to base. Existing query parameters on base
// are kept; mode always wins.
func SurfaceURL(base string, mode SurfaceMode, extra url.Values) (string, error) {
	if !mode.valid() {
		return "", fmt.Errorf("%w: unknown mode %q", ErrBadSurfaceURL, mode)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSurfaceURL, err)
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set(ParamMode, string(mode))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SurfaceReturn is what a fresh navigation back onto the surface carries
// when the broadcast channel could not be used, e.g. after a provider
// redirect.
type SurfaceReturn struct {
	Mode      SurfaceMode
	Status    string
	Error     string
	Provider  string
	Assertion []byte
}

// OK reports a successful return.
func (r SurfaceReturn) OK() bool { return r.Status == StatusSuccess }

// ReturnURL encodes r onto base, the inverse of ParseSurfaceReturn.
func ReturnURL(base string, r SurfaceReturn) (string, error) {
	extra := url.Values{ParamStatus: {r.Status}}
	if r.Error != "" {
		extra.Set(ParamError, r.Error)
	}
	if r.Provider != "" {
		extra.Set(ParamProvider, r.Provider)
	}
	if len(r.Assertion) > 0 {
		extra.Set(ParamAssertion, base64.RawURLEncoding.EncodeToString(r.Assertion))
	}
	return SurfaceURL(base, r.Mode, extra)
}

// ParseSurfaceReturn reads the return parameters from u. A success return
// must name a provider and carry an assertion.
func ParseSurfaceReturn(u *url.URL) (SurfaceReturn, error) {
	if u == nil {
		return SurfaceReturn{}, ErrBadSurfaceURL
	}
	q := u.Query()
	out := SurfaceReturn{
		Mode:     SurfaceMode(q.Get(ParamMode)),
		Status:   q.Get(ParamStatus),
		Error:    q.Get(ParamError),
		Provider: q.Get(ParamProvider),
	}
	if !out.Mode.valid() {
		return SurfaceReturn{}, fmt.Errorf("%w: unknown mode %q", ErrBadSurfaceURL, out.Mode)
	}
	switch out.Status {
	case StatusError:
		return out, nil
	case StatusSuccess:
	default:
		return SurfaceReturn{}, fmt.Errorf("%w: unknown status %q", ErrBadSurfaceURL, out.Status)
	}

	if out.Provider == "" {
		return SurfaceReturn{}, fmt.Errorf("%w: missing provider", ErrBadSurfaceURL)
	}
	raw := q.Get(ParamAssertion)
	if raw == "" {
		return SurfaceReturn{}, fmt.Errorf("%w: missing assertion", ErrBadSurfaceURL)
	}
	assertion, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return SurfaceReturn{}, fmt.Errorf("%w: assertion: %v", ErrBadSurfaceURL, err)
	}
	out.Assertion = assertion
	return out, nil
}
