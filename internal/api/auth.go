// CLAUDE:SUMMARY Auth handshake routes — qualify, CLI device codes, device binding, invites, API keys, e-mail codes, session
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/seafoodmarket/internal/auth"
	"github.com/hazyhaar/seafoodmarket/internal/db"
	mailer "github.com/hazyhaar/seafoodmarket/internal/mail"
)

func (a *API) registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/qualify", RateLimitMiddleware(a.limits.Qualify, a.handleQualify))

	mux.HandleFunc("POST /api/auth/cli", a.handleCliCreate)
	mux.HandleFunc("GET /api/auth/cli", a.handleCliPoll)
	mux.HandleFunc("PUT /api/auth/cli", a.handleCliApprove)

	mux.HandleFunc("GET /api/auth/device", a.handleListDevices)
	mux.HandleFunc("POST /api/auth/device", a.handleAddDevice)
	mux.HandleFunc("POST /api/auth/device/bind", a.handleBindDevice)
	mux.HandleFunc("GET /api/auth/device/me", a.handleDeviceMe)
	mux.HandleFunc("GET /api/auth/devices", a.handleListDevices)
	mux.HandleFunc("DELETE /api/auth/devices/{id}", a.handleRevokeDevice)

	mux.HandleFunc("GET /api/auth/invite", a.handleMyInvites)
	mux.HandleFunc("GET /api/auth/invite/mine", a.handleMyInvites)
	mux.HandleFunc("POST /api/auth/invite/activate", a.handleActivateInvite)
	mux.HandleFunc("POST /api/auth/invite/validate", RateLimitMiddleware(a.limits.Qualify, a.handleValidateInvite))

	mux.HandleFunc("POST /api/auth/api-key", a.handleCreateAPIKey)
	mux.HandleFunc("GET /api/auth/api-key", a.handleListAPIKeys)
	mux.HandleFunc("DELETE /api/auth/api-key", a.handleRevokeAPIKey)

	mux.HandleFunc("POST /api/auth/register", RateLimitMiddleware(a.limits.Register, a.handleRegister))

	mux.HandleFunc("POST /api/auth/email/start", RateLimitMiddleware(a.limits.Email, a.handleEmailStart))
	mux.HandleFunc("POST /api/auth/email/verify", RateLimitMiddleware(a.limits.Email, a.handleEmailVerify))
	mux.HandleFunc("GET /api/auth/redirect", a.handleRedirect)

	mux.HandleFunc("GET /api/auth/me", a.handleMe)
	mux.HandleFunc("PATCH /api/auth/me", a.handleUpdateMe)
	mux.HandleFunc("DELETE /api/auth/account", a.handleDeleteAccount)
	mux.HandleFunc("POST /api/auth/onboarding", a.handleOnboarding)
	mux.HandleFunc("POST /api/auth/logout", a.handleLogout)
}

// inviteErrorMessage maps invite failures to the user-facing message.
func inviteErrorMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return "邀请码不存在", true
	case errors.Is(err, db.ErrQuotaExhausted):
		return "邀请码已用完", true
	case errors.Is(err, db.ErrInviteExpired):
		return "邀请码已过期", true
	case errors.Is(err, db.ErrAlreadyActivated):
		return "你已经激活过邀请码", true
	case errors.Is(err, db.ErrTokenConsumed):
		return "资格凭证已使用", true
	case errors.Is(err, db.ErrCodeExpired):
		return "资格凭证已过期，请重新提交邀请码", true
	}
	return "", false
}

type authMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	AuthURL     string `json:"auth_url"`
	Instruction string `json:"instruction"`
}

func (a *API) availableMethods(base, qt string) []authMethod {
	link := func(provider string) string {
		return fmt.Sprintf("%s/api/auth/redirect?qt=%s&provider=%s", base, url.QueryEscape(qt), provider)
	}
	var methods []authMethod
	if a.cfg.Auth.GitHubClientID != "" {
		methods = append(methods, authMethod{
			ID: "github", Name: "GitHub", Type: "oauth",
			Description: "使用 GitHub 账号授权登录，自动获取头像和用户名。",
			AuthURL:     link("github"),
			Instruction: "请在浏览器中打开上方链接，完成 GitHub 授权。",
		})
	}
	if a.cfg.Auth.FeishuAppID != "" {
		methods = append(methods, authMethod{
			ID: "feishu", Name: "飞书", Type: "oauth",
			Description: "使用飞书账号授权登录，适合国内用户。",
			AuthURL:     link("feishu"),
			Instruction: "请在浏览器中打开上方链接，完成飞书授权。",
		})
	}
	methods = append(methods, authMethod{
		ID: "email", Name: "邮箱", Type: "email",
		Description: "输入邮箱地址，收到验证码后完成验证。",
		AuthURL:     link("email"),
		Instruction: "请提供你的邮箱地址，我们会发送一封包含验证码的邮件。",
	})
	return methods
}

func (a *API) handleQualify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteCode string `json:"invite_code"`
		DeviceID   string `json:"device_id"`
		DeviceName string `json:"device_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	code := db.NormalizeInviteCode(req.InviteCode)
	if code == "" {
		jsonFail(w, http.StatusBadRequest, "missing_invite_code", "请提供邀请码。")
		return
	}
	if _, err := a.db.ValidateInviteCode(r.Context(), code); err != nil {
		msg, known := inviteErrorMessage(err)
		if !known {
			internalError(w, r, "validating invite code", err)
			return
		}
		jsonFail(w, http.StatusForbidden, "invalid_invite_code", msg)
		return
	}

	qt, err := a.db.CreateQualificationToken(r.Context(), code, req.DeviceID, req.DeviceName)
	if err != nil {
		internalError(w, r, "creating qualification token", err)
		return
	}
	base := a.publicURL(r)
	resp := map[string]any{
		"success":             true,
		"qualification_token": qt.Token,
		"expires_in":          int(db.QualificationTTL.Seconds()),
		"available_methods":   a.availableMethods(base, qt.Token),
		"message":             "邀请码有效！请选择以下方式之一完成注册。",
		"agent_hint":          "根据 available_methods 引导用户选择登录方式。OAuth 类型需要在浏览器打开 auth_url；email 类型需要用户提供邮箱地址。",
	}
	if req.DeviceID != "" {
		cli, err := a.db.CreateCliAuthRequest(r.Context(), req.DeviceID, req.DeviceName)
		if err != nil {
			internalError(w, r, "creating cli auth request", err)
			return
		}
		resp["poll_code"] = cli.Code
		resp["poll_url"] = fmt.Sprintf("%s/api/auth/cli?code=%s&deviceId=%s", base, cli.Code, url.QueryEscape(req.DeviceID))
		resp["agent_hint"] = "引导用户打开 auth_url 完成注册，然后轮询 poll_url 等待 authorized 状态。"
	}
	jsonResp(w, http.StatusOK, resp)
}

func (a *API) handleCliCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"deviceId"`
		DeviceName string `json:"deviceName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		jsonError(w, "Missing deviceId", http.StatusBadRequest)
		return
	}
	cli, err := a.db.CreateCliAuthRequest(r.Context(), req.DeviceID, req.DeviceName)
	if err != nil {
		internalError(w, r, "creating cli auth request", err)
		return
	}
	jsonOK(w, http.StatusCreated, map[string]any{
		"code":         cli.Code,
		"expiresAt":    cli.ExpiresAt,
		"approveUrl":   a.publicURL(r) + "/cli/authorize?code=" + cli.Code,
		"pollInterval": 3000,
	})
}

func (a *API) handleCliPoll(w http.ResponseWriter, r *http.Request) {
	code := db.NormalizeInviteCode(r.URL.Query().Get("code"))
	deviceID := r.URL.Query().Get("deviceId")
	if code == "" || deviceID == "" {
		jsonError(w, "Missing code or deviceId", http.StatusBadRequest)
		return
	}
	res, err := a.db.PollCliAuthRequest(r.Context(), code, deviceID)
	if err != nil {
		notFoundOr(w, r, err, "Code not found")
		return
	}
	jsonOK(w, http.StatusOK, res)
}

func (a *API) handleCliApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	if !id.User.Activated() {
		jsonFail(w, http.StatusForbidden, "invite_required", "需要先激活邀请码才能授权设备")
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		jsonError(w, "Missing code", http.StatusBadRequest)
		return
	}
	cli, err := a.db.ApproveCliAuthRequest(r.Context(), req.Code, id.User.ID)
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		jsonError(w, "授权码不存在", http.StatusNotFound)
		return
	case errors.Is(err, db.ErrAlreadyAuthorized):
		jsonError(w, "授权码已被使用", http.StatusBadRequest)
		return
	case errors.Is(err, db.ErrCodeExpired):
		jsonError(w, "授权码已过期，请在 CLI 重新发起授权", http.StatusBadRequest)
		return
	case errors.Is(err, db.ErrDeviceBoundToOther):
		jsonError(w, "该设备已绑定其他账号", http.StatusConflict)
		return
	default:
		internalError(w, r, "approving cli auth request", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"message":  "✅ 设备已授权！CLI 现在可以使用了。",
		"deviceId": db.MaskDeviceID(cli.DeviceID),
	})
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	devices, err := a.db.ListDevices(r.Context(), id.User.ID)
	if err != nil {
		internalError(w, r, "listing devices", err)
		return
	}
	if devices == nil {
		devices = []db.DeviceBinding{}
	}
	jsonOK(w, http.StatusOK, devices)
}

// bindDevice is shared by POST /device and POST /device/bind.
func (a *API) bindDevice(w http.ResponseWriter, r *http.Request, message string) {
	id, ok := a.requireActivated(w, r)
	if !ok {
		return
	}
	var req struct {
		DeviceID   string `json:"deviceId"`
		Name       string `json:"name"`
		DeviceName string `json:"deviceName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		jsonError(w, "Missing deviceId", http.StatusBadRequest)
		return
	}
	name := req.Name
	if name == "" {
		name = req.DeviceName
	}
	if err := a.db.AuthorizeDevice(r.Context(), req.DeviceID, id.User.ID, name); err != nil {
		if errors.Is(err, db.ErrDeviceBoundToOther) {
			jsonError(w, "该设备已绑定其他账号", http.StatusConflict)
			return
		}
		internalError(w, r, "binding device", err)
		return
	}
	jsonOK(w, http.StatusCreated, map[string]any{
		"deviceId": db.MaskDeviceID(req.DeviceID),
		"userId":   id.User.ID,
		"message":  message,
	})
}

func (a *API) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	a.bindDevice(w, r, "设备已授权")
}

func (a *API) handleBindDevice(w http.ResponseWriter, r *http.Request) {
	a.bindDevice(w, r, "✅ 设备绑定成功！Agent 现在可以通过 X-Device-ID 认证。")
}

func (a *API) handleDeviceMe(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID == "" {
		deviceID = r.Header.Get(DeviceHeader)
	}
	if deviceID == "" {
		jsonError(w, "Missing deviceId", http.StatusBadRequest)
		return
	}
	b, err := a.db.GetDeviceBinding(r.Context(), deviceID)
	if errors.Is(err, db.ErrNotFound) {
		jsonOK(w, http.StatusOK, map[string]any{"bound": false, "deviceId": db.MaskDeviceID(deviceID)})
		return
	}
	if err != nil {
		internalError(w, r, "loading device binding", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"bound":        true,
		"deviceId":     db.MaskDeviceID(b.DeviceID),
		"userId":       b.UserID,
		"userName":     b.UserName,
		"deviceName":   b.DeviceName,
		"authorizedAt": b.AuthorizedAt,
	})
}

func (a *API) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	revoked, err := a.db.RevokeDevice(r.Context(), r.PathValue("id"), id.User.ID)
	if err != nil {
		internalError(w, r, "revoking device", err)
		return
	}
	if !revoked {
		jsonError(w, "Device not found", http.StatusNotFound)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{"revoked": true})
}

func (a *API) handleMyInvites(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	codes, err := a.db.GetUserInviteCodes(r.Context(), id.User.ID)
	if err != nil {
		internalError(w, r, "listing invite codes", err)
		return
	}
	if codes == nil {
		codes = []db.InviteCode{}
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"activated":  id.User.Activated(),
		"inviteCode": id.User.InviteCode,
		"codes":      codes,
	})
}

func (a *API) handleActivateInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		jsonError(w, "请提供邀请码", http.StatusBadRequest)
		return
	}
	act, err := a.db.ActivateInviteCode(r.Context(), req.Code, id.User.ID)
	if err != nil {
		if msg, known := inviteErrorMessage(err); known {
			jsonError(w, msg, http.StatusBadRequest)
			return
		}
		internalError(w, r, "activating invite code", err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"message":  "邀请码激活成功",
		"newCodes": act.NewCodes,
	})
}

func (a *API) handleValidateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := a.db.ValidateInviteCode(r.Context(), req.Code)
	if err != nil {
		msg, known := inviteErrorMessage(err)
		if !known {
			internalError(w, r, "validating invite code", err)
			return
		}
		jsonOK(w, http.StatusOK, map[string]any{"valid": false, "error": msg})
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"valid":     true,
		"remaining": c.MaxUses - c.UseCount,
		"expiresAt": c.ExpiresAt,
		"type":      c.Type,
	})
}

func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(req.Name) > 50 {
		jsonFail(w, http.StatusBadRequest, "invalid_name", "名称不能超过 50 个字符")
		return
	}
	key, err := auth.GenerateAPIKey()
	if err != nil {
		internalError(w, r, "generating api key", err)
		return
	}
	if err := a.db.CreateAPIKey(r.Context(), id.User.ID, req.Name, key.Hash, key.Prefix); err != nil {
		internalError(w, r, "storing api key", err)
		return
	}
	jsonResp(w, http.StatusCreated, map[string]any{
		"success":    true,
		"api_key":    key.Plain,
		"key_prefix": key.Prefix,
		"message":    "⚠️ 请保存好你的 API Key，它只会显示一次！",
	})
}

func (a *API) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	keys, err := a.db.ListAPIKeys(r.Context(), id.User.ID)
	if err != nil {
		internalError(w, r, "listing api keys", err)
		return
	}
	if keys == nil {
		keys = []db.APIKey{}
	}
	jsonResp(w, http.StatusOK, map[string]any{"success": true, "keys": keys})
}

func (a *API) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		KeyHash   string `json:"key_hash"`
		Key       string `json:"key"`
		KeyPrefix string `json:"key_prefix"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	hash := req.KeyHash
	if hash == "" && req.Key != "" {
		hash = auth.HashAPIKey(req.Key)
	}
	if hash == "" && req.KeyPrefix == "" {
		jsonFail(w, http.StatusBadRequest, "invalid_key", "请提供 key_hash 或 key")
		return
	}
	revoked, err := a.db.RevokeAPIKey(r.Context(), id.User.ID, hash, req.KeyPrefix)
	if err != nil {
		internalError(w, r, "revoking api key", err)
		return
	}
	if !revoked {
		jsonFail(w, http.StatusNotFound, "key_not_found", "API Key 不存在")
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"success": true, "message": "API Key 已撤销"})
}

// handleRegister is the deprecated agent self-registration: invite code in,
// activated user plus API key out.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteCode string `json:"invite_code"`
		Name       string `json:"name"`
		Type       string `json:"type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.InviteCode == "" || req.Name == "" {
		jsonFail(w, http.StatusBadRequest, "missing_fields", "invite_code 和 name 为必填项")
		return
	}
	if n := utf8.RuneCountInString(req.Name); n < 2 || n > 30 {
		jsonFail(w, http.StatusBadRequest, "invalid_name", "名称长度需在 2-30 个字符之间")
		return
	}
	switch req.Type {
	case "user", "human":
		req.Type = "user"
	default:
		req.Type = "agent"
	}
	ctx := r.Context()
	if _, err := a.db.ValidateInviteCode(ctx, req.InviteCode); err != nil {
		msg, known := inviteErrorMessage(err)
		if !known {
			internalError(w, r, "validating invite code", err)
			return
		}
		jsonFail(w, http.StatusForbidden, "invalid_invite_code", msg)
		return
	}
	if _, err := a.db.FindUserByName(ctx, req.Name); err == nil {
		jsonFail(w, http.StatusConflict, "name_taken", "该名称已被使用")
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		internalError(w, r, "checking name", err)
		return
	}

	avatar := "👤"
	if req.Type == "agent" {
		avatar = "🤖"
	}
	u, err := a.db.CreateUser(ctx, db.CreateUserInput{
		Name:       req.Name,
		Avatar:     avatar,
		Provider:   "api_key",
		ProviderID: "agent-" + db.RandomHex(8),
		Type:       req.Type,
	})
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			jsonFail(w, http.StatusConflict, "name_taken", "该名称已被使用")
			return
		}
		internalError(w, r, "creating user", err)
		return
	}
	if _, err := a.db.ActivateInviteCode(ctx, req.InviteCode, u.ID); err != nil {
		if msg, known := inviteErrorMessage(err); known {
			jsonFail(w, http.StatusForbidden, "invalid_invite_code", msg)
			return
		}
		internalError(w, r, "activating invite code", err)
		return
	}
	key, err := auth.GenerateAPIKey()
	if err != nil {
		internalError(w, r, "generating api key", err)
		return
	}
	if err := a.db.CreateAPIKey(ctx, u.ID, "register", key.Hash, key.Prefix); err != nil {
		internalError(w, r, "storing api key", err)
		return
	}
	slog.Info("agent registered", "user_id", u.ID, "type", req.Type)
	jsonResp(w, http.StatusCreated, map[string]any{
		"success":         true,
		"api_key":         key.Plain,
		"user_id":         u.ID,
		"name":            u.Name,
		"type":            u.Type,
		"message":         "注册成功！请保存好你的 API Key，它只会显示一次。",
		"deprecated":      true,
		"migration_guide": "推荐流程：POST /api/auth/qualify 获取 qualification_token，由人类用户完成注册后通过 /api/auth/device/bind 绑定设备，Agent 使用 X-Device-ID 认证。",
	})
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && len(s) <= 254
}

func (a *API) handleEmailStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(email) {
		jsonFail(w, http.StatusBadRequest, "invalid_email", "邮箱地址无效")
		return
	}
	code, err := auth.NewOTP()
	if err != nil {
		internalError(w, r, "generating code", err)
		return
	}
	hash, err := auth.HashCode(code)
	if err != nil {
		internalError(w, r, "hashing code", err)
		return
	}
	if err := a.db.PutVerificationCode(r.Context(), email, hash); err != nil {
		internalError(w, r, "storing verification code", err)
		return
	}
	if err := a.mailer.Send(r.Context(), mailer.LoginCode(email, code, db.VerificationTTL)); err != nil {
		slog.Error("sending login code", "error", err)
		jsonFail(w, http.StatusBadGateway, "email_failed", "邮件发送失败，请稍后再试")
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"sent":       true,
		"expires_in": int(db.VerificationTTL.Seconds()),
	})
}

func (a *API) secureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

func (a *API) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email              string `json:"email"`
		Code               string `json:"code"`
		QualificationToken string `json:"qualification_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	code := strings.TrimSpace(req.Code)
	if !validEmail(email) || code == "" {
		jsonFail(w, http.StatusBadRequest, "invalid_request", "请提供邮箱和验证码")
		return
	}
	err := a.db.CheckVerificationCode(ctx, email, func(hash string) bool { return auth.CheckCode(hash, code) })
	switch {
	case err == nil:
	case errors.Is(err, db.ErrCodeExpired):
		jsonFail(w, http.StatusBadRequest, "code_expired", "验证码已过期，请重新获取")
		return
	case errors.Is(err, db.ErrNotFound):
		jsonFail(w, http.StatusBadRequest, "invalid_code", "验证码错误")
		return
	default:
		internalError(w, r, "checking verification code", err)
		return
	}

	u, err := a.db.FindUserByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		name := email[:strings.IndexByte(email, '@')]
		u, err = a.db.CreateUser(ctx, db.CreateUserInput{
			Email:      email,
			Name:       name,
			Avatar:     "👤",
			Provider:   "email",
			ProviderID: email,
			Type:       "user",
		})
	}
	if err != nil {
		internalError(w, r, "loading email user", err)
		return
	}
	if u.DeletedAt != nil {
		jsonFail(w, http.StatusForbidden, "account_deleted", "账号已注销")
		return
	}
	if u.Banned() {
		jsonFail(w, http.StatusForbidden, "user_banned", "账号已被封禁。如有疑问请联系管理员。")
		return
	}

	var activation *db.Activation
	if req.QualificationToken != "" && !u.Activated() {
		activation, err = a.db.RedeemQualificationToken(ctx, req.QualificationToken, u.ID)
		if err != nil {
			if msg, known := inviteErrorMessage(err); known {
				jsonFail(w, http.StatusBadRequest, "qualification_failed", msg)
				return
			}
			internalError(w, r, "redeeming qualification token", err)
			return
		}
		if u, err = a.db.GetUserByID(ctx, u.ID); err != nil {
			internalError(w, r, "reloading user", err)
			return
		}
	}

	token, err := a.auth.GenerateToken(u.ID, u.Name)
	if err != nil {
		internalError(w, r, "generating token", err)
		return
	}
	http.SetCookie(w, a.auth.SessionCookieFor(token, a.secureRequest(r)))
	data := map[string]any{
		"user":      u,
		"token":     token,
		"activated": u.Activated(),
	}
	if activation != nil {
		data["newCodes"] = activation.NewCodes
	}
	jsonOK(w, http.StatusOK, data)
}

// handleRedirect routes a qualification link to its sign-in method. Only the
// e-mail method is served by this process.
func (a *API) handleRedirect(w http.ResponseWriter, r *http.Request) {
	qt := r.URL.Query().Get("qt")
	provider := r.URL.Query().Get("provider")
	if qt == "" || provider == "" {
		jsonError(w, "Missing qt or provider", http.StatusBadRequest)
		return
	}
	if _, err := a.db.PeekQualificationToken(r.Context(), qt); err != nil {
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, db.ErrTokenConsumed) || errors.Is(err, db.ErrCodeExpired) {
			jsonFail(w, http.StatusBadRequest, "invalid_qualification_token", "资格凭证无效或已过期，请重新提交邀请码")
			return
		}
		internalError(w, r, "peeking qualification token", err)
		return
	}
	switch provider {
	case "email":
		target := fmt.Sprintf("%s/register?qt=%s&provider=email", a.publicURL(r), url.QueryEscape(qt))
		http.Redirect(w, r, target, http.StatusFound)
	case "github", "feishu":
		jsonFail(w, http.StatusNotImplemented, "provider_unavailable", "该登录方式暂未开放，请使用邮箱登录")
	default:
		jsonError(w, "Unsupported provider", http.StatusBadRequest)
	}
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	jsonOK(w, http.StatusOK, map[string]any{
		"user":       id.User,
		"authMethod": id.Method,
		"activated":  id.User.Activated(),
	})
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name *string `json:"name"`
		Bio  *string `json:"bio"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != nil {
		*req.Name = strings.TrimSpace(*req.Name)
		if n := utf8.RuneCountInString(*req.Name); n < 2 || n > 30 {
			jsonFail(w, http.StatusBadRequest, "invalid_name", "名称长度需在 2-30 个字符之间")
			return
		}
	}
	if req.Bio != nil && utf8.RuneCountInString(*req.Bio) > 500 {
		jsonFail(w, http.StatusBadRequest, "invalid_bio", "简介不能超过 500 个字符")
		return
	}
	if _, err := a.db.UpdateProfile(r.Context(), id.User.ID, req.Name, req.Bio); err != nil {
		internalError(w, r, "updating profile", err)
		return
	}
	u, err := a.db.GetUserByID(r.Context(), id.User.ID)
	if err != nil {
		internalError(w, r, "reloading user", err)
		return
	}
	jsonOK(w, http.StatusOK, u)
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	deleted, err := a.db.SoftDeleteUser(r.Context(), id.User.ID)
	if err != nil {
		internalError(w, r, "deleting account", err)
		return
	}
	if !deleted {
		jsonFail(w, http.StatusBadRequest, "delete_failed", "注销失败，请重试")
		return
	}
	a.clearSession(w, r)
	jsonResp(w, http.StatusOK, map[string]any{"success": true, "message": "账号已注销"})
}

func (a *API) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var req struct {
		Name   string `json:"name"`
		Avatar string `json:"avatar"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if n := utf8.RuneCountInString(req.Name); n < 2 || n > 30 {
		jsonFail(w, http.StatusBadRequest, "invalid_name", "名称长度需在 2-30 个字符之间")
		return
	}
	if req.Avatar == "" {
		req.Avatar = id.User.Avatar
	}
	if _, err := a.db.CompleteOnboarding(r.Context(), id.User.ID, req.Name, req.Avatar); err != nil {
		internalError(w, r, "completing onboarding", err)
		return
	}
	u, err := a.db.GetUserByID(r.Context(), id.User.ID)
	if err != nil {
		internalError(w, r, "reloading user", err)
		return
	}
	jsonOK(w, http.StatusOK, u)
}

func (a *API) clearSession(w http.ResponseWriter, r *http.Request) {
	c := a.auth.SessionCookieFor("", a.secureRequest(r))
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSession(w, r)
	jsonOK(w, http.StatusOK, map[string]any{"loggedOut": true})
}
