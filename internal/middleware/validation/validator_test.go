package validation

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxContentLength: 10, MaxDocumentSize: 1024}))
	app.Post("/api/v1/documents/:id/chat", func(c *fiber.Ctx) error {
		msg, ok := ChatMessageFrom(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(msg.UserID + "|" + msg.Content)
	})
	app.Post("/api/v1/documents", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })
	app.Get("/api/v1/documents", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		echo        string
	}{
		{"valid", fiber.MIMEApplicationJSON, `{"user_id":" u1 ","content":"  hi\u0000 there "}`, fiber.StatusOK, "u1|hi there"},
		{"missing content", fiber.MIMEApplicationJSON, `{"user_id":"u1"}`, fiber.StatusBadRequest, ""},
		{"whitespace content", fiber.MIMEApplicationJSON, `{"content":"   "}`, fiber.StatusBadRequest, ""},
		{"too long", fiber.MIMEApplicationJSON, `{"content":"` + strings.Repeat("é", 11) + `"}`, fiber.StatusBadRequest, ""},
		{"bad json", fiber.MIMEApplicationJSON, `{"content":`, fiber.StatusBadRequest, ""},
		{"wrong content type", "text/xml", `<content>hi</content>`, fiber.StatusUnsupportedMediaType, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/documents/doc-1/chat", strings.NewReader(tc.body))
			req.Header.Set(fiber.HeaderContentType, tc.contentType)

			resp, err := newApp().Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)

			if tc.echo != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tc.echo, string(body))
			}
		})
	}
}

func multipartUpload(t *testing.T, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("user_id", "u1"))
	part, err := w.CreateFormFile("file", "big.pdf")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadValidation(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest("POST", "/api/v1/documents", strings.NewReader(`{"file":"x"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	req = httptest.NewRequest("POST", "/api/v1/documents", strings.NewReader("--b--\r\n"))
	req.Header.Set(fiber.HeaderContentType, "multipart/form-data; boundary=b")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body, contentType := multipartUpload(t, bytes.Repeat([]byte("x"), 1024+64*1024+1))
	req = httptest.NewRequest("POST", "/api/v1/documents", body)
	req.Header.Set(fiber.HeaderContentType, contentType)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/documents", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
