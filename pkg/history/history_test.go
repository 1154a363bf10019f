package history_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatrelay/pkg/history"
	"github.com/papercomputeco/chatrelay/pkg/llm"
)

var _ = Describe("TitleFor", func() {
	It("uses the first user message", func() {
		title := history.TitleFor([]history.Message{
			history.NewMessage(llm.RoleAssistant, "welcome"),
			history.NewMessage(llm.RoleUser, "  what is Go?  "),
			history.NewMessage(llm.RoleUser, "second"),
		})
		Expect(title).To(Equal("what is Go?"))
	})

	It("truncates long messages to 40 characters", func() {
		title := history.TitleFor([]history.Message{
			history.NewMessage(llm.RoleUser, strings.Repeat("a", 60)),
		})
		Expect(title).To(Equal(strings.Repeat("a", 40) + "..."))
	})

	It("falls back to the default title", func() {
		Expect(history.TitleFor(nil)).To(Equal(history.DefaultTitle))
	})
})

var _ = Describe("NewChat", func() {
	It("assigns distinct ids", func() {
		a, b := history.NewChat(), history.NewChat()
		Expect(a.ID).NotTo(Equal(b.ID))
		Expect(a.Title).To(Equal(history.DefaultTitle))
		Expect(a.CreatedAt).To(Equal(a.UpdatedAt))
	})
})

var _ = Describe("NotFoundError", func() {
	It("includes the id when present", func() {
		Expect(history.NotFoundError{ID: "abc"}.Error()).To(Equal("chat not found: abc"))
		Expect(history.NotFoundError{}.Error()).To(Equal("chat not found"))
	})
})
