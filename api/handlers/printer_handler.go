package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/arloliu/go-flashforge/device"
	"github.com/arloliu/go-flashforge/settings"
)

// Printer is a configured printer with the status of its device.
type Printer struct {
	ID      string         `json:"id"`
	Address string         `json:"address"`
	Status  *device.Status `json:"status,omitempty"`
}

// SavePrinterRequest is the body of PUT /printers/:id.
type SavePrinterRequest struct {
	Address string `json:"address" binding:"required"`
}

// GetPrinters returns all configured printers
func (h *Handler) GetPrinters(c *gin.Context) {
	all, err := h.Book.LoadAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	printers := make([]Printer, 0, len(all))
	for id, inst := range all {
		printers = append(printers, h.printer(id, inst))
	}
	sort.Slice(printers, func(i, j int) bool { return printers[i].ID < printers[j].ID })

	c.JSON(http.StatusOK, printers)
}

// GetPrinter returns one configured printer
func (h *Handler) GetPrinter(c *gin.Context) {
	id := c.Param("id")

	inst, ok, err := h.Book.GetFor(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}

	c.JSON(http.StatusOK, h.printer(id, inst))
}

// SavePrinter sets the address of a printer and registers its device
func (h *Handler) SavePrinter(c *gin.Context) {
	id := c.Param("id")

	var req SavePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.Book.SaveFor(id, req.Address); err != nil {
		if errors.Is(err, settings.ErrInvalidAddress) || errors.Is(err, settings.ErrNoIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if _, err := h.Registry.Refresh(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.printer(id, settings.Instance{Address: req.Address}))
}

// DeletePrinter removes the address of a printer and its device
func (h *Handler) DeletePrinter(c *gin.Context) {
	id := c.Param("id")

	removed, err := h.Book.Delete(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}

	h.Registry.Remove(id)
	c.Status(http.StatusNoContent)
}

// GetPrinterStatus returns the upload status of a printer
func (h *Handler) GetPrinterStatus(c *gin.Context) {
	d, ok := h.Registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}

	c.JSON(http.StatusOK, d.Status())
}

func (h *Handler) printer(id string, inst settings.Instance) Printer {
	p := Printer{ID: id, Address: inst.Address}
	if d, ok := h.Registry.Get(id); ok {
		st := d.Status()
		p.Status = &st
	}

	return p
}
