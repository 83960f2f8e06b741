package server

import (
	"fmt"
	"log/slog"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type postMessageRequest struct {
	Text      string `json:"text"`
	Image     string `json:"image"`
	ClientKey string `json:"clientKey"`
}

const maxClientKeyLength = 64

// ChatHandler exposes the message log over REST. Confirmed writes are fanned
// out to the project room once they are durable.
type ChatHandler struct {
	log     *slog.Logger
	service services.IMessageService
	oracle  contract.MembershipOracle
	gateway contract.IGateway
}

func NewChatHandler(log *slog.Logger, service services.IMessageService,
	oracle contract.MembershipOracle, gateway contract.IGateway) *ChatHandler {
	return &ChatHandler{log: log, service: service, oracle: oracle, gateway: gateway}
}

func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/:id/messages", h.listMessages)
	router.Post("/:id/messages", h.postMessage)
	router.Delete("/:id/messages/:messageId", h.deleteMessage)
	router.Post("/:id/join", h.joinProject)
	router.Get("/:id/presence", h.presence)
}

func (h *ChatHandler) listMessages(c *fiber.Ctx) error {
	projectID, userID, err := h.member(c)
	if err != nil {
		return err
	}
	messages, err := h.service.List(c.UserContext(), projectID)
	if err != nil {
		return err
	}
	h.log.Debug("History served", "project_id", projectID, "user_id", userID, "count", len(messages))
	return c.JSON(fiber.Map{"success": true, "messages": messages})
}

func (h *ChatHandler) postMessage(c *fiber.Ctx) error {
	projectID, userID, err := h.member(c)
	if err != nil {
		return err
	}
	var body postMessageRequest
	if err := c.BodyParser(&body); err != nil {
		return fmt.Errorf("malformed body: %w", errors.ErrValidation)
	}
	if len(body.ClientKey) > maxClientKeyLength {
		return fmt.Errorf("client key too long: %w", errors.ErrValidation)
	}

	message, err := h.service.Create(c.UserContext(), domain.PostMessageCommand{
		ProjectID: projectID,
		SenderID:  userID,
		Text:      body.Text,
		Image:     body.Image,
	})
	if err != nil {
		return err
	}

	h.gateway.Broadcast(c.UserContext(), projectID, event.ReceiveMessage{
		ProjectID: projectID,
		Message:   message,
		ClientKey: body.ClientKey,
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":   true,
		"message":   message,
		"clientKey": body.ClientKey,
	})
}

func (h *ChatHandler) deleteMessage(c *fiber.Ctx) error {
	projectID, userID, err := h.member(c)
	if err != nil {
		return err
	}
	messageID, err := uuid.Parse(c.Params("messageId"))
	if err != nil {
		// An id that cannot exist is simply not found
		return fmt.Errorf("message %q: %w", c.Params("messageId"), errors.ErrNotFound)
	}

	message, err := h.service.SoftDelete(c.UserContext(), domain.DeleteMessageCommand{
		ProjectID:   projectID,
		MessageID:   messageID,
		RequesterID: userID,
	})
	if err != nil {
		return err
	}

	h.gateway.Broadcast(c.UserContext(), projectID, event.MessageDeleted{ProjectID: projectID, MessageID: messageID})
	return c.JSON(fiber.Map{"success": true, "message": message})
}

func (h *ChatHandler) joinProject(c *fiber.Ctx) error {
	projectID, userID, err := h.identity(c)
	if err != nil {
		return err
	}
	if err := h.oracle.Join(c.UserContext(), projectID, userID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Joined project successfully"})
}

func (h *ChatHandler) presence(c *fiber.Ctx) error {
	projectID, _, err := h.member(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"projectId": projectID, "members": h.gateway.Presence(projectID)})
}

func (h *ChatHandler) identity(c *fiber.Ctx) (domain.ProjectID, string, error) {
	userID, ok := auth.UserID(c)
	if !ok {
		return "", "", errors.ErrAuth
	}
	projectID := domain.ProjectID(c.Params("id"))
	if err := projectID.Validate(); err != nil {
		return "", "", err
	}
	return projectID, userID, nil
}

// member resolves the caller and checks they belong to the project.
func (h *ChatHandler) member(c *fiber.Ctx) (domain.ProjectID, string, error) {
	projectID, userID, err := h.identity(c)
	if err != nil {
		return "", "", err
	}
	isMember, err := h.oracle.IsMember(c.UserContext(), projectID, userID)
	if err != nil {
		return "", "", fmt.Errorf("membership lookup: %w", err)
	}
	if !isMember {
		return "", "", fmt.Errorf("user %s is not a member of project %s: %w", userID, projectID, errors.ErrForbidden)
	}
	return projectID, userID, nil
}
