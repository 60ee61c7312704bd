package handlers

import (
	"github.com/arloliu/go-flashforge/device"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/settings"
)

// Handler represents the API handlers
type Handler struct {
	Registry *device.Registry
	Book     *settings.AddressBook
	Logger   logger.Logger
}

// NewHandler creates a new Handler
func NewHandler(registry *device.Registry, book *settings.AddressBook, l logger.Logger) *Handler {
	return &Handler{
		Registry: registry,
		Book:     book,
		Logger:   l,
	}
}
