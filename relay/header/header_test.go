package header

import (
	"net/http"
	"net/http/httptest"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var (
		app *fiber.App
		hh  *Handler
	)

	BeforeEach(func() {
		app = fiber.New()
		hh = NewHandler()
	})

	AfterEach(func() {
		app.Shutdown()
	})

	Describe("SetStreamHeaders", func() {
		It("sets the event stream headers", func() {
			app.Get("/test", func(c *fiber.Ctx) error {
				hh.SetStreamHeaders(c)
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache, no-transform"))
			Expect(resp.Header.Get("X-Accel-Buffering")).To(Equal("no"))
		})
	})

	Describe("SetSecurityHeaders", func() {
		It("sets the hardening headers", func() {
			app.Get("/test", func(c *fiber.Ctx) error {
				hh.SetSecurityHeaders(c)
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/test", nil))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(resp.Header.Get("X-Content-Type-Options")).To(Equal("nosniff"))
			Expect(resp.Header.Get("X-Frame-Options")).To(Equal("DENY"))
			Expect(resp.Header.Get("X-XSS-Protection")).To(Equal("1; mode=block"))
			Expect(resp.Header.Get("Referrer-Policy")).To(Equal("strict-origin-when-cross-origin"))
		})
	})

	Describe("ClientIP", func() {
		var got string

		BeforeEach(func() {
			got = ""
			app.Get("/ip", func(c *fiber.Ctx) error {
				got = hh.ClientIP(c)
				return c.SendStatus(fiber.StatusOK)
			})
		})

		request := func(headers map[string]string) {
			req := httptest.NewRequest(http.MethodGet, "/ip", nil)
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
		}

		It("prefers the first X-Forwarded-For entry", func() {
			request(map[string]string{
				"X-Forwarded-For": "203.0.113.7, 10.0.0.1",
				"X-Real-Ip":       "198.51.100.2",
			})
			Expect(got).To(Equal("203.0.113.7"))
		})

		It("falls back to X-Real-IP", func() {
			request(map[string]string{"X-Real-Ip": "198.51.100.2"})
			Expect(got).To(Equal("198.51.100.2"))
		})

		It("falls back to the remote address", func() {
			request(nil)
			Expect(got).NotTo(BeEmpty())
		})
	})
})
