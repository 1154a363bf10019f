package sse

import (
	"bufio"
	"bytes"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Writer", func() {
	It("frames payloads as data events", func() {
		var buf bytes.Buffer
		w := NewWriter(&buf)

		Expect(w.WriteData([]byte(`{"text":"hi","done":false}`))).To(Succeed())
		Expect(w.WriteDone()).To(Succeed())

		Expect(buf.String()).To(Equal("data: {\"text\":\"hi\",\"done\":false}\n\ndata: [DONE]\n\n"))
	})

	It("flushes buffered destinations after each frame", func() {
		var buf bytes.Buffer
		bw := bufio.NewWriterSize(&buf, 4096)
		w := NewWriter(bw)

		Expect(w.WriteData([]byte("x"))).To(Succeed())
		Expect(buf.String()).To(Equal("data: x\n\n"))
	})

	It("round trips through the Reader", func() {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		Expect(w.WriteData([]byte("one"))).To(Succeed())
		Expect(w.WriteComment("ping")).To(Succeed())
		Expect(w.WriteData([]byte("two"))).To(Succeed())

		Expect(buf.String()).To(ContainSubstring(": ping\n\n"))

		events := drain(NewReader(strings.NewReader(buf.String())))
		Expect(events).To(HaveLen(2))
		Expect(events[0].Data).To(Equal("one"))
		Expect(events[1].Data).To(Equal("two"))
	})
})

var _ = Describe("IdleTimeoutReader", func() {
	It("fires when no bytes arrive", func() {
		fired := make(chan struct{})
		r := NewIdleTimeoutReader(strings.NewReader(""), 20*time.Millisecond, func() { close(fired) })
		defer r.Stop()

		Eventually(fired).Should(BeClosed())
		Expect(r.Fired()).To(BeTrue())
	})

	It("does not fire when stopped", func() {
		called := make(chan struct{}, 1)
		r := NewIdleTimeoutReader(strings.NewReader("abc"), 20*time.Millisecond, func() { called <- struct{}{} })
		r.Stop()

		Consistently(called, 60*time.Millisecond).ShouldNot(Receive())
		Expect(r.Fired()).To(BeFalse())
	})

	It("is disabled by a zero duration", func() {
		r := NewIdleTimeoutReader(strings.NewReader("abc"), 0, func() { Fail("should not fire") })
		p := make([]byte, 3)
		n, err := r.Read(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))
		r.Stop()
	})
})
