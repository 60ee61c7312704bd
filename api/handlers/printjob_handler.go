package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // thumbnail decoders
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	_ "golang.org/x/image/bmp"

	"github.com/arloliu/go-flashforge/device"
	"github.com/arloliu/go-flashforge/gx"
	"github.com/arloliu/go-flashforge/transfer"
)

// PrintJobResponse is the body of an accepted upload.
type PrintJobResponse struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Size     int    `json:"size"`
	Kind     string `json:"kind"`
}

// CreatePrintJob uploads a G-code file to a printer.
//
// The multipart form carries the "gcode" file, an optional "thumbnail"
// image, an optional "file_name" and "job_name", and repeated
// "material_length" (metres) and "material_name" values.
func (h *Handler) CreatePrintJob(c *gin.Context) {
	d, ok := h.Registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
		return
	}

	gcodeFile, err := c.FormFile("gcode")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gcode file is required"})
		return
	}

	lengths, err := parseFloats(c.PostFormArray("material_length"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := device.WriteRequest{
		FileName: c.PostForm("file_name"),
		Info: gx.JobInfo{
			Name:            c.PostForm("job_name"),
			MaterialLengths: lengths,
			MaterialNames:   c.PostFormArray("material_name"),
		},
		GCode: device.GCodeFunc(func(context.Context) (string, error) {
			data, err := readFormFile(gcodeFile)
			return string(data), err
		}),
	}

	if thumbFile, err := c.FormFile("thumbnail"); err == nil {
		req.Thumbnail = device.ThumbnailFunc(func(context.Context) ([]byte, error) {
			data, err := readFormFile(thumbFile)
			if err != nil {
				return nil, err
			}

			img, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("decode thumbnail: %w", err)
			}

			return gx.BitmapFromImage(img)
		})
	}

	if req.FileName == "" {
		req.FileName = gcodeFile.Filename
	}

	job, err := d.RequestWrite(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, transfer.ErrBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})

		return
	}

	kind := gx.KindGCode
	if path.Ext(job.FileName) == "."+string(gx.KindContainer) {
		kind = gx.KindContainer
	}

	c.JSON(http.StatusAccepted, PrintJobResponse{
		ID:       job.ID,
		FileName: job.FileName,
		Size:     job.Size(),
		Kind:     string(kind),
	})
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

func parseFloats(values []string) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid material_length %q", v)
		}
		out = append(out, f)
	}

	return out, nil
}
