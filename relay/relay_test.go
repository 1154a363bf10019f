package relay_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatrelay/pkg/eventstream"
	"github.com/papercomputeco/chatrelay/pkg/llm"
	"github.com/papercomputeco/chatrelay/pkg/ratelimit"
	"github.com/papercomputeco/chatrelay/relay"
)

const userOnlyBody = `{"messages":[{"role":"user","content":"hi"}]}`

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](resp *http.Response) T {
	var v T
	Expect(json.NewDecoder(resp.Body).Decode(&v)).To(Succeed())
	return v
}

var _ = Describe("Relay", func() {
	var (
		fake *fakeProvider
		pub  *recordingPublisher
		r    *relay.Relay
		cfg  relay.Config
	)

	BeforeEach(func() {
		fake = newFakeProvider(
			llm.TextDelta{Text: "Hel"},
			llm.TextDelta{Text: "lo"},
			llm.StreamDone{},
		)
		pub = &recordingPublisher{}
		cfg = relay.Config{Provider: fake, Publisher: pub}
	})

	JustBeforeEach(func() {
		var err error
		r, err = relay.New(cfg, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("rejects an unknown history mode", func() {
			_, err := relay.New(relay.Config{Provider: fake, HistoryMode: "some"}, nil)
			Expect(err).To(MatchError(ContainSubstring("unknown history mode")))
		})

		It("rejects an unknown provider type", func() {
			_, err := relay.New(relay.Config{ProviderType: "nope"}, nil)
			Expect(err).To(HaveOccurred())
		})

		It("requires a provider type when no provider is injected", func() {
			_, err := relay.New(relay.Config{}, nil)
			Expect(err).To(MatchError("provider type is required"))
		})
	})

	Describe("GET /health", func() {
		It("reports healthy with defaults", func() {
			resp, err := r.App().Test(httptest.NewRequest(http.MethodGet, relay.HealthPath, nil), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody[relay.HealthResponse](resp)
			Expect(body.Status).To(Equal("healthy"))
			Expect(body.Environment).To(Equal(relay.DefaultEnvironment))
			Expect(body.Version).To(Equal(relay.DefaultVersion))
			Expect(body.Timestamp).NotTo(BeZero())
		})

		It("sets security headers", func() {
			resp, err := r.App().Test(httptest.NewRequest(http.MethodGet, relay.HealthPath, nil), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Header.Get("X-Frame-Options")).To(Equal("DENY"))
			Expect(resp.Header.Get("X-Content-Type-Options")).To(Equal("nosniff"))
		})
	})

	Describe("POST /chat-stream", func() {
		It("relays deltas in order followed by [DONE]", func() {
			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(ContainSubstring("no-cache"))

			frames := readFrames(resp.Body)
			Expect(frames).To(Equal([]llm.StreamEvent{
				llm.TextDelta{Text: "Hel"},
				llm.TextDelta{Text: "lo"},
				llm.StreamDone{},
			}))
		})

		It("writes the frames byte-for-byte", func() {
			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())

			raw, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(Equal(
				"data: {\"text\":\"Hel\",\"done\":false}\n\n" +
					"data: {\"text\":\"lo\",\"done\":false}\n\n" +
					"data: [DONE]\n\n",
			))
		})

		It("forwards an upstream error as a single error frame without [DONE]", func() {
			fake.events = []llm.StreamEvent{
				llm.TextDelta{Text: "partial"},
				llm.StreamError{Message: "quota exhausted", Code: 429},
			}

			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())

			frames := readFrames(resp.Body)
			Expect(frames).To(HaveLen(2))
			Expect(frames[1]).To(Equal(llm.StreamError{Message: "quota exhausted", Code: 429}))
			Expect(frames).NotTo(ContainElement(llm.StreamDone{}))
			Expect(terminalCount(frames)).To(Equal(1))
		})

		It("maps an upstream HTTP status to a user-facing message", func() {
			fake.openErr = &llm.UpstreamHTTPError{StatusCode: http.StatusServiceUnavailable}

			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())

			frames := readFrames(resp.Body)
			Expect(frames).To(Equal([]llm.StreamEvent{llm.StreamError{
				Message: relay.UpstreamErrorMessage(http.StatusServiceUnavailable),
				Code:    http.StatusServiceUnavailable,
			}}))
		})

		It("reports a transport failure as a stream processing error", func() {
			fake.openErr = fmt.Errorf("dial tcp: connection refused")

			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())

			frames := readFrames(resp.Body)
			Expect(frames).To(Equal([]llm.StreamEvent{llm.StreamError{Message: "Stream processing error"}}))
		})

		It("reports an idle upstream as a timeout", func() {
			fake.openErr = llm.ErrIdleTimeout

			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())

			frames := readFrames(resp.Body)
			Expect(frames).To(HaveLen(1))
			Expect(frames[0]).To(BeAssignableToTypeOf(llm.StreamError{}))
			Expect(frames[0].(llm.StreamError).Code).To(Equal(http.StatusGatewayTimeout))
		})

		DescribeTable("rejects invalid bodies with 400 before streaming",
			func(body, message string) {
				resp, err := r.App().Test(postJSON(relay.ChatStreamPath, body), -1)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(resp.Header.Get("Content-Type")).NotTo(HavePrefix("text/event-stream"))

				Expect(decodeBody[llm.ErrorResponse](resp).Error).To(Equal(message))
				Expect(fake.prompts).To(BeEmpty())
			},
			Entry("malformed JSON", `{"messages":`, "Invalid request format"),
			Entry("missing messages", `{}`, "Invalid request format"),
			Entry("empty messages", `{"messages":[]}`, "Invalid request format"),
			Entry("unknown role", `{"messages":[{"role":"system","content":"x"}]}`, "Invalid request format"),
			Entry("no user message", `{"messages":[{"role":"assistant","content":"x"}]}`, "No user message found"),
		)

		Context("with history mode latest", func() {
			It("forwards only the most recent user message", func() {
				body := `{"messages":[
					{"role":"user","content":"first"},
					{"role":"assistant","content":"reply"},
					{"role":"user","content":"second"},
					{"role":"assistant","content":"trailing"}
				]}`
				resp, err := r.App().Test(postJSON(relay.ChatStreamPath, body), -1)
				Expect(err).NotTo(HaveOccurred())
				readFrames(resp.Body)

				prompt := fake.lastPrompt()
				Expect(prompt.Messages).To(Equal([]llm.ChatMessage{{Role: llm.RoleUser, Content: "second"}}))
				Expect(prompt.Generation).To(Equal(llm.DefaultGenerationConfig()))
			})
		})

		Context("with history mode full", func() {
			BeforeEach(func() {
				cfg.HistoryMode = relay.HistoryFull
			})

			It("forwards the whole conversation in order", func() {
				body := `{"messages":[
					{"role":"user","content":"first"},
					{"role":"assistant","content":"reply"},
					{"role":"user","content":"second"}
				]}`
				resp, err := r.App().Test(postJSON(relay.ChatStreamPath, body), -1)
				Expect(err).NotTo(HaveOccurred())
				readFrames(resp.Body)

				Expect(fake.lastPrompt().Messages).To(Equal([]llm.ChatMessage{
					{Role: llm.RoleUser, Content: "first"},
					{Role: llm.RoleAssistant, Content: "reply"},
					{Role: llm.RoleUser, Content: "second"},
				}))
			})

			It("drops assistant turns before the first user message", func() {
				body := `{"messages":[
					{"role":"assistant","content":"Hi! How can I help?"},
					{"role":"user","content":"first"},
					{"role":"assistant","content":"reply"},
					{"role":"user","content":"second"}
				]}`
				resp, err := r.App().Test(postJSON(relay.ChatStreamPath, body), -1)
				Expect(err).NotTo(HaveOccurred())
				readFrames(resp.Body)

				Expect(fake.lastPrompt().Messages).To(Equal([]llm.ChatMessage{
					{Role: llm.RoleUser, Content: "first"},
					{Role: llm.RoleAssistant, Content: "reply"},
					{Role: llm.RoleUser, Content: "second"},
				}))
			})
		})

		It("publishes a turn event for the completed stream", func() {
			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())
			readFrames(resp.Body)

			Eventually(func() int { return len(pub.turns()) }).Should(Equal(1))

			turn := pub.turns()[0]
			Expect(turn.EventType).To(Equal(eventstream.EventTypeTurnCompleted))
			Expect(turn.Source.Provider).To(Equal("fake"))
			Expect(turn.Request.Path).To(Equal(relay.ChatStreamPath))
			Expect(turn.Request.Streaming).To(BeTrue())
			Expect(turn.Result.Outcome).To(Equal(eventstream.OutcomeCompleted))
			Expect(turn.Result.DeltaCount).To(Equal(2))
			Expect(turn.Result.ResponseLength).To(Equal(5))
		})
	})

	Describe("client disconnect", func() {
		var (
			listener net.Listener
			baseURL  string
		)

		BeforeEach(func() {
			fake.endless = true
		})

		JustBeforeEach(func() {
			var err error
			listener, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			baseURL = "http://" + listener.Addr().String()

			go func() {
				defer GinkgoRecover()
				_ = r.RunWithListener(listener)
			}()
		})

		AfterEach(func() {
			Expect(r.Close()).To(Succeed())
		})

		It("cancels the upstream stream when the client goes away", func() {
			resp, err := http.Post(baseURL+relay.ChatStreamPath, "application/json", strings.NewReader(userOnlyBody))
			Expect(err).NotTo(HaveOccurred())

			line, err := bufio.NewReader(resp.Body).ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(HavePrefix("data: "))

			Expect(resp.Body.Close()).To(Succeed())

			Eventually(fake.closed, 5*time.Second).Should(BeClosed())
			Eventually(func() []eventstream.Outcome {
				var outcomes []eventstream.Outcome
				for _, t := range pub.turns() {
					outcomes = append(outcomes, t.Result.Outcome)
				}
				return outcomes
			}, 5*time.Second).Should(ContainElement(eventstream.OutcomeCancelled))
		})

		Context("while the upstream is stalled", func() {
			BeforeEach(func() {
				fake = newFakeProvider(llm.TextDelta{Text: "thinking"})
				fake.stall = true
				cfg.Provider = fake
				cfg.HeartbeatInterval = 20 * time.Millisecond
			})

			It("cancels the upstream without waiting for another delta", func() {
				resp, err := http.Post(baseURL+relay.ChatStreamPath, "application/json", strings.NewReader(userOnlyBody))
				Expect(err).NotTo(HaveOccurred())

				line, err := bufio.NewReader(resp.Body).ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				Expect(line).To(ContainSubstring("thinking"))

				Expect(resp.Body.Close()).To(Succeed())

				Eventually(fake.closed, 2*time.Second).Should(BeClosed())
			})

			It("keeps an open stream alive with comment frames", func() {
				resp, err := http.Post(baseURL+relay.ChatStreamPath, "application/json", strings.NewReader(userOnlyBody))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				reader := bufio.NewReader(resp.Body)
				Eventually(func() string {
					line, _ := reader.ReadString('\n')
					return line
				}, 2*time.Second).Should(Equal(": ping\n"))
			})
		})
	})

	Describe("missing credential", func() {
		var upstream *httptest.Server

		BeforeEach(func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			}))
			cfg = relay.Config{ProviderType: "gemini", UpstreamURL: upstream.URL}
		})

		AfterEach(func() {
			upstream.Close()
		})

		It("fails /chat-stream with 500 and no stream", func() {
			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(decodeBody[llm.ErrorResponse](resp).Error).To(Equal("Server configuration error"))
		})

		It("fails /chat with 500", func() {
			resp, err := r.App().Test(postJSON(relay.ChatPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			body := decodeBody[relay.ChatResponse](resp)
			Expect(body.Success).To(BeFalse())
			Expect(body.Error).To(Equal("Server configuration error"))
		})
	})

	Describe("with a Gemini upstream", func() {
		var (
			upstream *httptest.Server
			status   int
		)

		BeforeEach(func() {
			status = http.StatusOK
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if status != http.StatusOK {
					w.WriteHeader(status)
					_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
					return
				}
				w.Header().Set("Content-Type", "text/event-stream")
				for _, text := range []string{"Hel", "lo"} {
					fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":%q}]}}]}\r\n\r\n", text)
					w.(http.Flusher).Flush()
				}
			}))
			cfg = relay.Config{
				ProviderType: "gemini",
				UpstreamURL:  upstream.URL,
				APIKey:       "test-key",
				IdleTimeout:  2 * time.Second,
			}
		})

		AfterEach(func() {
			upstream.Close()
		})

		It("normalizes provider frames end to end", func() {
			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())

			Expect(readFrames(resp.Body)).To(Equal([]llm.StreamEvent{
				llm.TextDelta{Text: "Hel"},
				llm.TextDelta{Text: "lo"},
				llm.StreamDone{},
			}))
		})

		It("translates an upstream 429", func() {
			status = http.StatusTooManyRequests

			resp, err := r.App().Test(postJSON(relay.ChatStreamPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())

			frames := readFrames(resp.Body)
			Expect(frames).To(Equal([]llm.StreamEvent{llm.StreamError{
				Message: relay.UpstreamErrorMessage(http.StatusTooManyRequests),
				Code:    http.StatusTooManyRequests,
			}}))
		})
	})

	Describe("POST /chat", func() {
		It("returns the full reply", func() {
			fake.reply = "Hello there"

			resp, err := r.App().Test(postJSON(relay.ChatPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decodeBody[relay.ChatResponse](resp)
			Expect(body.Success).To(BeTrue())
			Expect(body.Assistant).To(Equal("Hello there"))
		})

		Context("with a separate chat model", func() {
			BeforeEach(func() {
				cfg.Model = "stream-model"
				cfg.ChatModel = "chat-model"
				fake.reply = "ok"
			})

			It("uses the chat model", func() {
				_, err := r.App().Test(postJSON(relay.ChatPath, userOnlyBody), -1)
				Expect(err).NotTo(HaveOccurred())
				Expect(fake.lastPrompt().Model).To(Equal("chat-model"))
			})
		})

		It("rejects messages with empty content", func() {
			resp, err := r.App().Test(postJSON(relay.ChatPath, `{"messages":[{"role":"user","content":""}]}`), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeBody[relay.ChatResponse](resp).Error).To(Equal("Invalid message format. Each message must have role and content."))
		})

		It("reports an empty reply as a server error", func() {
			resp, err := r.App().Test(postJSON(relay.ChatPath, userOnlyBody), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(decodeBody[relay.ChatResponse](resp).Error).To(Equal("Empty response from AI service"))
		})

		DescribeTable("maps upstream failures",
			func(upstreamStatus, wantStatus int, wantCode string) {
				fake.genErr = &llm.UpstreamHTTPError{StatusCode: upstreamStatus}

				resp, err := r.App().Test(postJSON(relay.ChatPath, userOnlyBody), -1)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(wantStatus))

				body := decodeBody[relay.ChatResponse](resp)
				Expect(body.Success).To(BeFalse())
				Expect(body.ErrorCode).To(Equal(wantCode))
				Expect(body.Error).NotTo(BeEmpty())
			},
			Entry("overloaded", http.StatusServiceUnavailable, http.StatusServiceUnavailable, relay.CodeServiceOverloaded),
			Entry("rate limited", http.StatusTooManyRequests, http.StatusTooManyRequests, relay.CodeRateLimitExceeded),
			Entry("bad request", http.StatusBadRequest, http.StatusBadRequest, relay.CodeInvalidRequest),
			Entry("anything else", http.StatusBadGateway, http.StatusInternalServerError, relay.CodeServiceUnavailable),
		)
	})

	Describe("rate limiting", func() {
		BeforeEach(func() {
			cfg.Limiter = ratelimit.NewFixedWindow(time.Minute, 2)
		})

		It("rejects requests over the per-IP budget with 429", func() {
			for range 2 {
				req := postJSON(relay.ChatStreamPath, userOnlyBody)
				req.Header.Set("X-Forwarded-For", "10.0.0.1")
				resp, err := r.App().Test(req, -1)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				readFrames(resp.Body)
			}

			req := postJSON(relay.ChatStreamPath, userOnlyBody)
			req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
			resp, err := r.App().Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))

			body := decodeBody[llm.ErrorResponse](resp)
			Expect(body.Error).To(Equal("Too many requests"))
			Expect(body.Message).To(Equal("Rate limit exceeded. Please try again later."))
		})

		It("tracks callers independently", func() {
			for _, ip := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.2"} {
				req := postJSON(relay.ChatStreamPath, userOnlyBody)
				req.Header.Set("X-Real-Ip", ip)
				resp, err := r.App().Test(req, -1)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				readFrames(resp.Body)
			}
		})

		It("exempts the health endpoint", func() {
			for range 5 {
				req := httptest.NewRequest(http.MethodGet, relay.HealthPath, nil)
				req.Header.Set("X-Forwarded-For", "10.0.0.9")
				resp, err := r.App().Test(req, -1)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			}
		})
	})
})
