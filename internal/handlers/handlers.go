package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat.git/internal/auth"
	"github.com/pelusa-v/pelusa-chat.git/internal/chat"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
)

const (
	identityKey = "identity"
	cookieName  = "auth_token"
)

// Handlers serves the HTTP API and the socket upgrade.
type Handlers struct {
	store   *store.Store
	auth    *auth.Authenticator
	hub     *chat.Manager
	metrics *chat.Metrics
	log     *zap.Logger
}

func New(st *store.Store, authn *auth.Authenticator, hub *chat.Manager, metrics *chat.Metrics, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		store:   st,
		auth:    authn,
		hub:     hub,
		metrics: metrics,
		log:     log,
	}
}

// Mount registers every route on app.
func (h *Handlers) Mount(app *fiber.App) {
	app.Get("/health", HealthHandler)

	api := app.Group("/api")
	api.Post("/auth/signup", h.SignupHandler)
	api.Post("/auth/login", h.LoginHandler)
	api.Post("/auth/logout", h.LogoutHandler)
	api.Get("/auth/me", h.RequireAuth, h.MeHandler)

	api.Get("/contacts", h.RequireAuth, h.ContactsHandler)
	api.Post("/contacts", h.RequireAuth, h.AddContactHandler)
	api.Get("/messages", h.RequireAuth, h.MessagesHandler) // ?contactId=
	api.Get("/presence/:userId", h.RequireAuth, h.PresenceHandler)
	api.Get("/online", h.RequireAuth, h.OnlineHandler)

	app.Get("/ws", h.RequireAuth, UpgradeRequired, h.SocketHandler())
}

// ErrorHandler renders every error as {"message": ...}. Anything that is not a
// *fiber.Error is logged and hidden behind a 500.
func (h *Handlers) ErrorHandler(c *fiber.Ctx, err error) error {
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return c.Status(ferr.Code).JSON(fiber.Map{"message": ferr.Message})
	}
	h.log.Error("request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "internal server error"})
}

// HealthHandler GET /health
func HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
