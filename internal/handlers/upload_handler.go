package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/arda-t/ScoutChatBack/internal/services"
)

const (
	maxUploadBatch = 10
	// Attachments above this size are rejected before signing.
	maxUploadBytes = 25 << 20
)

type UploadHandler struct {
	storage services.StorageService
}

func NewUploadHandler(storage services.StorageService) *UploadHandler {
	return &UploadHandler{storage: storage}
}

type uploadRequest struct {
	Files []services.UploadRequest `json:"files"`
}

// CreateChatAttachmentUploads signs one upload slot per requested file.
// Clients PUT the bytes straight to storage and send the resulting
// public URLs as message attachments.
func (h *UploadHandler) CreateChatAttachmentUploads(c *fiber.Ctx) error {
	if _, err := currentUserID(c); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	if h.storage == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "File uploads are not configured"})
	}

	var req uploadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if len(req.Files) == 0 || len(req.Files) > maxUploadBatch {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Between 1 and 10 files per request"})
	}
	for _, file := range req.Files {
		if file.Name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "File name is required"})
		}
		if file.Size <= 0 || file.Size > maxUploadBytes {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "File size must be between 1 byte and 25MB"})
		}
	}

	targets, err := h.storage.CreateUploadURLs(c.Context(), "chat-attachments", req.Files)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to create upload URLs"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"uploads": targets})
}
