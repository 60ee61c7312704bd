package api

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-flashforge/api/handlers"
	"github.com/arloliu/go-flashforge/device"
	"github.com/arloliu/go-flashforge/gx"
	"github.com/arloliu/go-flashforge/internal/printertest"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/settings"
	"github.com/arloliu/go-flashforge/transfer"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testServer struct {
	router   *gin.Engine
	registry *device.Registry
	book     *settings.AddressBook
}

func newTestServer(t *testing.T, opts ...device.Option) *testServer {
	t.Helper()

	mock := logger.NewPermissiveMockLogger()
	book := settings.NewAddressBook(settings.NewMemoryStore(), settings.WithLogger(mock))

	all := append([]device.Option{
		device.WithLogger(mock),
		device.WithEncoder(gx.NewEncoder(gx.WithDebugDumpPath(""), gx.WithLogger(mock))),
	}, opts...)
	registry := device.NewRegistry(context.Background(), book, all...)
	t.Cleanup(registry.Close)

	return &testServer{router: NewRouter(registry, book, mock), registry: registry, book: book}
}

func (s *testServer) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())

	return v
}

func multipartBody(t *testing.T, fields map[string][]string, files map[string][]byte) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, values := range fields {
		for _, v := range values {
			require.NoError(t, mw.WriteField(name, v))
		}
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".bin")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	return buf.Bytes(), mw.FormDataContentType()
}

func TestRouter_PrinterCRUD(t *testing.T) {
	require := require.New(t)
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/printers", nil, "")
	require.Equal(http.StatusOK, w.Code)
	require.JSONEq(`[]`, w.Body.String())

	w = s.do(t, http.MethodPut, "/api/v1/printers/p1", []byte(`{"address":"192.168.1.50"}`), "application/json")
	require.Equal(http.StatusOK, w.Code, w.Body.String())
	p := decode[handlers.Printer](t, w)
	require.Equal("p1", p.ID)
	require.Equal("192.168.1.50", p.Address)
	require.NotNil(p.Status)
	require.Equal("ready", p.Status.State)

	_, ok := s.registry.Get("p1")
	require.True(ok)

	w = s.do(t, http.MethodGet, "/api/v1/printers/p1", nil, "")
	require.Equal(http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/printers", nil, "")
	require.Equal(http.StatusOK, w.Code)
	require.Len(decode[[]handlers.Printer](t, w), 1)

	w = s.do(t, http.MethodDelete, "/api/v1/printers/p1", nil, "")
	require.Equal(http.StatusNoContent, w.Code)

	_, ok = s.registry.Get("p1")
	require.False(ok)

	w = s.do(t, http.MethodDelete, "/api/v1/printers/p1", nil, "")
	require.Equal(http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/printers/p1", nil, "")
	require.Equal(http.StatusNotFound, w.Code)
}

func TestRouter_SavePrinterInvalid(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/api/v1/printers/p1", []byte(`{"address":"999.1.1.1"}`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid IPv4 address")

	w = s.do(t, http.MethodPut, "/api/v1/printers/p1", []byte(`{}`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Zero(t, s.registry.Len())
}

func TestRouter_CreatePrintJob(t *testing.T) {
	require := require.New(t)

	printer := printertest.New(t, "BUILDING_FROM_SD")
	s := newTestServer(t, device.WithTransferOptions(
		transfer.WithPort(printer.Port()),
		transfer.WithPostTransferDelay(0),
		transfer.WithStartSettleDelay(0),
	))

	_, err := s.book.SaveFor("p1", printer.Host())
	require.NoError(err)
	_, err = s.registry.Refresh("p1")
	require.NoError(err)

	thumb := image.NewRGBA(image.Rect(0, 0, 16, 16))
	thumb.Set(8, 8, color.RGBA{G: 255, A: 255})
	var thumbPNG bytes.Buffer
	require.NoError(png.Encode(&thumbPNG, thumb))

	body, contentType := multipartBody(t,
		map[string][]string{
			"file_name":       {"DNX_cube.gcode"},
			"material_length": {"1.5"},
			"material_name":   {"PLA"},
		},
		map[string][]byte{
			"gcode":     []byte(";TIME:60\nM104 S210\nG0 X1\n"),
			"thumbnail": thumbPNG.Bytes(),
		},
	)

	w := s.do(t, http.MethodPost, "/api/v1/printers/p1/jobs", body, contentType)
	require.Equal(http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[handlers.PrintJobResponse](t, w)
	require.Equal("cube.gx", resp.FileName)
	require.Equal("gx", resp.Kind)
	require.NotEmpty(resp.ID)

	require.Eventually(func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/printers/p1/status", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		var st device.Status
		if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
			return false
		}

		return st.LastJob != nil && st.LastJob.Done && st.LastJob.Succeeded
	}, 5*time.Second, 10*time.Millisecond)

	payloads := printer.Payloads()
	require.Len(payloads, 1)
	require.Equal(resp.Size, len(payloads[0]))

	h, err := gx.ParseHeader(payloads[0])
	require.NoError(err)
	require.Equal(uint32(1500), h.FilamentLength[0])
	require.Greater(h.ThumbnailSize(), gx.ThumbnailEdge*gx.ThumbnailEdge*3)
}

func TestRouter_CreatePrintJobErrors(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartBody(t, nil, map[string][]byte{"gcode": []byte("G1 X1\n")})
	w := s.do(t, http.MethodPost, "/api/v1/printers/missing/jobs", body, contentType)
	require.Equal(t, http.StatusNotFound, w.Code)

	_, err := s.book.SaveFor("p1", "127.0.0.1")
	require.NoError(t, err)
	_, err = s.registry.Refresh("p1")
	require.NoError(t, err)

	body, contentType = multipartBody(t, map[string][]string{"job_name": {"x"}}, nil)
	w = s.do(t, http.MethodPost, "/api/v1/printers/p1/jobs", body, contentType)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body, contentType = multipartBody(t, map[string][]string{"material_length": {"abc"}}, map[string][]byte{"gcode": []byte("G1\n")})
	w = s.do(t, http.MethodPost, "/api/v1/printers/p1/jobs", body, contentType)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "material_length"))
}

func TestRouter_StatusNotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/printers/p1/status", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok","devices":0}`, w.Body.String())
}
