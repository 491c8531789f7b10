package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat.git/internal/auth"
	"github.com/pelusa-v/pelusa-chat.git/internal/models"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// RequireAuth resolves the caller's token and stores the identity in Locals.
// Browsers cannot set headers on a socket handshake, so the cookie and the
// token query parameter are accepted too.
func (h *Handlers) RequireAuth(c *fiber.Ctx) error {
	id, err := h.auth.Authenticate(c.UserContext(), tokenFrom(c))
	if err != nil {
		if !auth.IsAuthError(err) {
			return err
		}
		h.metrics.RecordAuthFailure(failureReason(err))
		h.log.Debug("rejected credential", zap.String("path", c.Path()), zap.Error(err))
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	c.Locals(identityKey, id)
	return c.Next()
}

func tokenFrom(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := c.Cookies(cookieName); token != "" {
		return token
	}
	return c.Query("token")
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "missing"
	case errors.Is(err, auth.ErrExpiredCredential):
		return "expired"
	case errors.Is(err, auth.ErrUserNotFound):
		return "unknown_user"
	default:
		return "invalid"
	}
}

func identity(c *fiber.Ctx) models.Identity {
	id, _ := c.Locals(identityKey).(models.Identity)
	return id
}

// SignupHandler POST /api/auth/signup
func (h *Handlers) SignupHandler(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name, email and password are required")
	}

	user, err := h.store.CreateUser(c.UserContext(), req.Name, req.Email, req.Password)
	if errors.Is(err, store.ErrEmailTaken) {
		return fiber.NewError(fiber.StatusConflict, "email already registered")
	}
	if err != nil {
		return err
	}
	h.log.Info("user signed up", zap.String("user_id", user.ID))
	return h.startSession(c, fiber.StatusCreated, user)
}

// LoginHandler POST /api/auth/login
func (h *Handlers) LoginHandler(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email and password are required")
	}

	user, err := h.store.Authenticate(c.UserContext(), req.Email, req.Password)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidPassword) {
		h.metrics.RecordAuthFailure("bad_login")
		return fiber.NewError(fiber.StatusUnauthorized, "invalid email or password")
	}
	if err != nil {
		return err
	}
	return h.startSession(c, fiber.StatusOK, user)
}

func (h *Handlers) startSession(c *fiber.Ctx, status int, user models.User) error {
	token, expires, err := h.auth.Tokens().Issue(user.ID)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(status).JSON(sessionResponse{User: user, Token: token})
}

// LogoutHandler POST /api/auth/logout
//
// A valid credential is optional. When present and the user has no live
// socket left, the stored status is set to offline.
func (h *Handlers) LogoutHandler(c *fiber.Ctx) error {
	c.ClearCookie(cookieName)

	id, err := h.auth.Authenticate(c.UserContext(), tokenFrom(c))
	if err != nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if p := h.hub.Presence(id.ID); p.ActiveConnections == 0 {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()
		if err := h.store.UpdateStatus(ctx, id.ID, models.StatusOffline, time.Now().UTC()); err != nil {
			h.log.Warn("store logout status", zap.String("user_id", id.ID), zap.Error(err))
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MeHandler GET /api/auth/me
func (h *Handlers) MeHandler(c *fiber.Ctx) error {
	user, err := h.store.FindUserByID(c.UserContext(), identity(c).ID)
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	if err != nil {
		return err
	}
	h.overlayUser(&user)
	return c.JSON(fiber.Map{"user": user})
}

// overlayUser replaces the stored status with the live one.
func (h *Handlers) overlayUser(u *models.User) {
	p := h.hub.Presence(u.ID)
	u.Status = p.Status
	if !p.LastSeen.IsZero() {
		u.LastSeen = p.LastSeen
	}
}
