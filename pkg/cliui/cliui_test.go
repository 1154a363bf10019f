package cliui_test

import (
	"bytes"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatrelay/pkg/cliui"
)

var _ = Describe("FormatDuration", func() {
	It("uses milliseconds below a second", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
	})

	It("uses fractional seconds above a second", func() {
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})

var _ = Describe("Step", func() {
	It("ends with a success line for the step", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "Saving", func() error {
			time.Sleep(100 * time.Millisecond)
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		out := buf.String()
		last := out[strings.LastIndex(out, "\r")+1:]
		Expect(last).To(HavePrefix("  " + cliui.SuccessMark + " Saving ("))
		Expect(last).To(HaveSuffix(")\n"))
	})

	It("returns the error of the step and marks it failed", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")
		Expect(cliui.Step(&buf, "Saving", func() error { return boom })).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark + " Saving"))
	})
})

var _ = Describe("Mark", func() {
	It("returns the success mark for nil", func() {
		Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
	})

	It("returns the fail mark for an error", func() {
		Expect(cliui.Mark(errors.New("boom"))).To(Equal(cliui.FailMark))
	})
})

var _ = Describe("RenderMarkdown", func() {
	It("keeps the text of the input", func() {
		rendered, err := cliui.RenderMarkdown("# Title\n\nsome **bold** text")
		Expect(err).NotTo(HaveOccurred())
		Expect(rendered).To(ContainSubstring("Title"))
		Expect(rendered).To(ContainSubstring("bold"))
	})
})
