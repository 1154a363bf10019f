package sse

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LineBuffer", func() {
	var b *LineBuffer

	BeforeEach(func() {
		b = &LineBuffer{}
	})

	It("returns nothing until a terminator arrives", func() {
		b.Push([]byte("data: {\"te"))
		_, ok := b.Next()
		Expect(ok).To(BeFalse())

		b.Push([]byte("xt\":\"hi\"}\n"))
		line, ok := b.Next()
		Expect(ok).To(BeTrue())
		Expect(line).To(Equal(`data: {"text":"hi"}`))
	})

	It("returns several lines from a single push", func() {
		b.Push([]byte("a\nb\n\nc"))

		var lines []string
		for {
			line, ok := b.Next()
			if !ok {
				break
			}
			lines = append(lines, line)
		}
		Expect(lines).To(Equal([]string{"a", "b", ""}))
		Expect(b.Len()).To(Equal(1))
	})

	It("strips a carriage return before the newline", func() {
		b.Push([]byte("data: x\r"))
		b.Push([]byte("\n"))

		line, ok := b.Next()
		Expect(ok).To(BeTrue())
		Expect(line).To(Equal("data: x"))
	})

	It("flushes the trailing partial line", func() {
		b.Push([]byte("done\ntail"))
		_, _ = b.Next()

		line, ok := b.Flush()
		Expect(ok).To(BeTrue())
		Expect(line).To(Equal("tail"))

		_, ok = b.Flush()
		Expect(ok).To(BeFalse())
	})

	It("keeps consuming correctly after compaction", func() {
		for range 100 {
			b.Push([]byte("0123456789\n"))
			line, ok := b.Next()
			Expect(ok).To(BeTrue())
			Expect(line).To(Equal("0123456789"))
		}
		Expect(b.Len()).To(BeZero())
	})
})
