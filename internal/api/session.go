// CLAUDE:SUMMARY Caller identity — session JWT, bound device header, API key; ban, activation and admin gates
package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/hazyhaar/seafoodmarket/internal/auth"
	"github.com/hazyhaar/seafoodmarket/internal/db"
)

const (
	MethodSession = "session"
	MethodDevice  = "device"
	MethodAPIKey  = "api_key"
)

// DeviceHeader carries a CLI device id bound through the device flow.
const DeviceHeader = "X-Device-ID"

type Identity struct {
	User   *db.User
	Method string
	// DeviceID is set for MethodDevice.
	DeviceID string
}

// identify resolves the caller: session first, then bound device, then API key.
// A nil identity with a nil error means anonymous.
func (a *API) identify(r *http.Request) (*Identity, error) {
	ctx := r.Context()
	if claims := a.auth.ExtractClaims(r); claims != nil {
		u, err := a.liveUser(r, claims.UserID)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return &Identity{User: u, Method: MethodSession}, nil
		}
	}

	if deviceID := r.Header.Get(DeviceHeader); deviceID != "" {
		b, err := a.db.GetDeviceBinding(ctx, deviceID)
		switch {
		case err == nil:
			u, err := a.liveUser(r, b.UserID)
			if err != nil {
				return nil, err
			}
			if u != nil {
				return &Identity{User: u, Method: MethodDevice, DeviceID: deviceID}, nil
			}
		case !errors.Is(err, db.ErrNotFound):
			return nil, err
		}
	}

	if tok := auth.BearerToken(r); auth.IsAPIKey(tok) {
		hash := auth.HashAPIKey(tok)
		u, err := a.db.FindUserByAPIKey(ctx, hash)
		switch {
		case err == nil:
			if u.DeletedAt == nil {
				if err := a.db.TouchAPIKey(ctx, hash); err != nil {
					return nil, err
				}
				return &Identity{User: u, Method: MethodAPIKey}, nil
			}
		case !errors.Is(err, db.ErrNotFound):
			return nil, err
		}
	}
	return nil, nil
}

// liveUser loads a non-deleted user, or nil.
func (a *API) liveUser(r *http.Request, id string) (*db.User, error) {
	u, err := a.db.GetUserByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.DeletedAt != nil {
		return nil, nil
	}
	return u, nil
}

// requireUser writes 401/403 and returns false unless an unbanned caller is present.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	id, err := a.identify(r)
	if err != nil {
		internalError(w, r, "resolving identity", err)
		return nil, false
	}
	if id == nil {
		jsonFail(w, http.StatusUnauthorized, "authentication_required",
			"请先认证。推荐流程：1) 人类用户网页注册 2) 绑定设备 /api/auth/device/bind 3) Agent 通过 X-Device-ID 认证。也可使用 API Key (Authorization: Bearer sk-xxx)。",
			"docs_url", "/explore")
		return nil, false
	}
	if id.User.Banned() {
		jsonFail(w, http.StatusForbidden, "user_banned", "账号已被封禁。如有疑问请联系管理员。")
		return nil, false
	}
	return id, true
}

// requireActivated additionally demands a redeemed invite code.
func (a *API) requireActivated(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return nil, false
	}
	if !id.User.Activated() {
		jsonFail(w, http.StatusForbidden, "invite_required",
			"需要有效邀请码。请通过 POST /api/auth/register 提供邀请码注册。",
			"register_url", "/api/auth/register")
		return nil, false
	}
	return id, true
}

// adminSecretOK compares X-Admin-Secret in constant time. An unset secret never matches.
func (a *API) adminSecretOK(r *http.Request) bool {
	want := a.cfg.Auth.AdminSecret
	got := r.Header.Get("X-Admin-Secret")
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireRole admits the admin secret or a user holding at least role.
// actorID is "admin-secret" for the former.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, role string) (string, bool) {
	if a.adminSecretOK(r) {
		return "admin-secret", true
	}
	id, ok := a.requireUser(w, r)
	if !ok {
		return "", false
	}
	if !db.HasRole(id.User.Role, role) {
		jsonFail(w, http.StatusForbidden, "forbidden", "权限不足")
		return "", false
	}
	return id.User.ID, true
}

// RequireAdmin gates next behind the admin secret or an admin user.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireRole(w, r, db.RoleAdmin); !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}
