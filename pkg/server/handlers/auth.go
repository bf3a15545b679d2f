package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/store/users"
)

// AuthHandler serves LOGIN, LOGOUT and CREATE_ACCOUNT.
type AuthHandler struct {
	env *Env
}

// NewAuthHandler creates the authentication handler.
func NewAuthHandler(env *Env) *AuthHandler {
	return &AuthHandler{env: env}
}

// CanHandle implements server.Handler.
func (h *AuthHandler) CanHandle(code int32) bool {
	switch code {
	case protocol.CodeLoginRequest, protocol.CodeLogoutRequest, protocol.CodeCreateAccountRequest:
		return true
	default:
		return false
	}
}

// Handle implements server.Handler.
func (h *AuthHandler) Handle(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	switch req.Code {
	case protocol.CodeLoginRequest:
		return h.login(ctx, req, sess)
	case protocol.CodeLogoutRequest:
		return h.logout(req, sess)
	case protocol.CodeCreateAccountRequest:
		return h.createAccount(ctx, req)
	default:
		return errorResponse(req, "unknown command")
	}
}

// loginBody is the JSON payload of LOGIN and CREATE_ACCOUNT requests.
// Field names are part of the wire contract.
type loginBody struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
	Email    string `json:"Email,omitempty"`
}

func (h *AuthHandler) login(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	var body loginBody
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return errorResponse(req, "malformed login payload")
	}
	if body.Username == "" || body.Password == "" {
		return errorResponse(req, "username and password are required")
	}

	user, err := h.env.Users.ValidateCredentials(ctx, body.Username, body.Password)
	if err != nil {
		if h.env.Metrics != nil {
			h.env.Metrics.RecordLogin("failed")
		}
		if errors.Is(err, users.ErrInvalidCredentials) {
			logger.Warn("Login failed",
				logger.KeySessionID, sess.ID,
				logger.KeyUsername, body.Username,
				logger.KeyClientIP, sess.RemoteAddr())
			resp := protocol.NewResponse(req, protocol.CodeUnauthorized)
			resp.SetMeta(protocol.MetaStatus, protocol.StatusFailed)
			resp.SetMeta(protocol.MetaMessage, "invalid username or password")
			return resp
		}
		return storeErrorResponse(req, err)
	}

	sess.Authenticate(user.ID, user.Username)
	if h.env.Metrics != nil {
		h.env.Metrics.RecordLogin("success")
	}
	logger.Info("Login",
		logger.KeySessionID, sess.ID,
		logger.KeyUserID, user.ID,
		logger.KeyUsername, user.Username,
		logger.KeyClientIP, sess.RemoteAddr())

	resp := okResponse(req)
	resp.UserID = user.ID
	resp.SetMeta(protocol.MetaUserID, user.ID)
	resp.SetMeta(protocol.MetaUsername, user.Username)
	return resp
}

func (h *AuthHandler) logout(req *protocol.Packet, sess *server.Session) *protocol.Packet {
	if !sess.IsAuthenticated() {
		return errorResponse(req, "not logged in")
	}
	if resp := checkPacketUser(req, sess); resp != nil {
		return resp
	}

	logger.Info("Logout",
		logger.KeySessionID, sess.ID,
		logger.KeyUserID, sess.UserID(),
		logger.KeyUsername, sess.Username())

	// The response goes out first; the connection loop closes the session
	// after the write.
	sess.CloseAfterResponse()
	return okResponse(req)
}

func (h *AuthHandler) createAccount(ctx context.Context, req *protocol.Packet) *protocol.Packet {
	var body loginBody
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return errorResponse(req, "malformed account payload")
	}
	if body.Username == "" {
		return errorResponse(req, "username is required")
	}

	user, err := h.env.Users.Create(ctx, body.Username, body.Password, body.Email, users.RoleUser)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrUsernameExists):
			return errorResponse(req, "username is already taken")
		case errors.Is(err, users.ErrPasswordTooShort), errors.Is(err, users.ErrPasswordTooLong):
			return errorResponse(req, err.Error())
		default:
			return storeErrorResponse(req, err)
		}
	}

	logger.Info("Account created",
		logger.KeyUserID, user.ID,
		logger.KeyUsername, user.Username)

	resp := okResponse(req)
	resp.SetMeta(protocol.MetaUserID, user.ID)
	resp.SetMeta(protocol.MetaUsername, user.Username)
	return resp
}
