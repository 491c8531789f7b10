package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
	"github.com/pelusa-v/pelusa-chat.git/internal/store"
)

type addContactRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UpgradeRequired rejects plain HTTP requests to the socket endpoint.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// SocketHandler GET /ws
//
// RequireAuth has already run, so the identity is in Locals by the time the
// upgrade happens.
func (h *Handlers) SocketHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		id, _ := c.Locals(identityKey).(models.Identity)
		if err := h.hub.Serve(context.Background(), id, c); err != nil {
			h.log.Warn("socket rejected", zap.Error(err))
		}
	})
}

// OnlineHandler GET /api/online
func (h *Handlers) OnlineHandler(c *fiber.Ctx) error {
	return c.JSON(h.hub.ListOnline(identity(c).ID))
}

// PresenceHandler GET /api/presence/:userId
func (h *Handlers) PresenceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	p := h.hub.Presence(userID)
	if p.LastSeen.IsZero() {
		// not seen since start; fall back to the stored lastSeen
		if user, err := h.store.FindUserByID(c.UserContext(), userID); err == nil {
			p.LastSeen = user.LastSeen
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return c.JSON(p)
}

// MessagesHandler GET /api/messages?contactId=
func (h *Handlers) MessagesHandler(c *fiber.Ctx) error {
	peer := strings.TrimSpace(c.Query("contactId"))
	if peer == "" {
		return fiber.NewError(fiber.StatusBadRequest, "contactId is required")
	}
	msgs, err := h.store.ListConversation(c.UserContext(), identity(c).ID, peer)
	if err != nil {
		return err
	}
	return c.JSON(msgs)
}

// ContactsHandler GET /api/contacts
func (h *Handlers) ContactsHandler(c *fiber.Ctx) error {
	contacts, err := h.store.ListContacts(c.UserContext(), identity(c).ID)
	if err != nil {
		return err
	}
	for i := range contacts {
		h.overlayContact(&contacts[i])
	}
	return c.JSON(contacts)
}

// AddContactHandler POST /api/contacts
func (h *Handlers) AddContactHandler(c *fiber.Ctx) error {
	var req addContactRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		return fiber.NewError(fiber.StatusBadRequest, "email is required")
	}

	me := identity(c)
	if strings.EqualFold(req.Email, me.Email) {
		return fiber.NewError(fiber.StatusBadRequest, "cannot add yourself as a contact")
	}
	contact, err := h.store.AddContact(c.UserContext(), me.ID, req.Email, strings.TrimSpace(req.Name))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "no user with that email")
	case errors.Is(err, store.ErrContactExists):
		return fiber.NewError(fiber.StatusConflict, "contact already exists")
	case err != nil:
		return err
	}

	h.overlayContact(&contact)
	return c.Status(fiber.StatusCreated).JSON(contact)
}

func (h *Handlers) overlayContact(contact *models.Contact) {
	p := h.hub.Presence(contact.ContactID)
	contact.Status = p.Status
	if !p.LastSeen.IsZero() {
		contact.LastSeen = p.LastSeen
	}
}
