package authcmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/chatrelay/cmd/chatrelay/auth"
	"github.com/papercomputeco/chatrelay/pkg/credentials"
)

var _ = Describe("Auth Command", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		GinkgoT().Setenv("GEMINI_API_KEY", "")
	})

	newCmd := func(out *bytes.Buffer) *cobra.Command {
		cmd := authcmder.NewAuthCmd()
		cmd.SetOut(out)
		cmd.PersistentFlags().String("config-dir", "", "Override path to .chatrelay/ config directory")
		return cmd
	}

	Describe("NewAuthCmd", func() {
		It("creates a command with expected properties", func() {
			cmd := authcmder.NewAuthCmd()
			Expect(cmd.Use).To(Equal("auth [provider]"))
			Expect(cmd.Short).NotTo(BeEmpty())
			Expect(cmd.Flags().Lookup("list")).NotTo(BeNil())
			Expect(cmd.Flags().Lookup("remove")).NotTo(BeNil())
		})
	})

	Describe("storing a key", func() {
		It("reads a piped key and stores it", func() {
			out := &bytes.Buffer{}
			cmd := newCmd(out)
			cmd.SetIn(bytes.NewBufferString("  gm-test-key  \n"))
			cmd.SetArgs([]string{"Gemini", "--config-dir", tmpDir})

			Expect(cmd.Execute()).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Stored"))

			mgr, err := credentials.NewManager(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			key, err := mgr.GetKey("gemini")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("gm-test-key"))
		})

		It("warns when the environment variable overrides the stored key", func() {
			GinkgoT().Setenv("GEMINI_API_KEY", "from-env")
			out := &bytes.Buffer{}
			cmd := newCmd(out)
			cmd.SetIn(bytes.NewBufferString("gm-test-key\n"))
			cmd.SetArgs([]string{"gemini", "--config-dir", tmpDir})

			Expect(cmd.Execute()).To(Succeed())
			Expect(out.String()).To(ContainSubstring("will be used instead"))
		})

		It("rejects an empty key", func() {
			cmd := newCmd(&bytes.Buffer{})
			cmd.SetIn(bytes.NewBufferString("   \n"))
			cmd.SetArgs([]string{"gemini", "--config-dir", tmpDir})

			Expect(cmd.Execute()).To(MatchError("API key cannot be empty"))
		})

		It("rejects missing input", func() {
			cmd := newCmd(&bytes.Buffer{})
			cmd.SetIn(&bytes.Buffer{})
			cmd.SetArgs([]string{"gemini", "--config-dir", tmpDir})

			Expect(cmd.Execute()).To(MatchError(ContainSubstring("no input received")))
		})
	})

	Describe("--list flag", func() {
		It("shows no credentials when none stored", func() {
			out := &bytes.Buffer{}
			cmd := newCmd(out)
			cmd.SetArgs([]string{"--list", "--config-dir", tmpDir})

			Expect(cmd.Execute()).To(Succeed())
			Expect(out.String()).To(ContainSubstring("No stored credentials."))
		})

		It("lists stored credentials", func() {
			mgr, err := credentials.NewManager(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.SetKey("openai", "sk-test")).To(Succeed())

			out := &bytes.Buffer{}
			cmd := newCmd(out)
			cmd.SetArgs([]string{"--list", "--config-dir", tmpDir})

			Expect(cmd.Execute()).To(Succeed())
			Expect(out.String()).To(ContainSubstring("openai"))
			Expect(out.String()).To(ContainSubstring("OPENAI_API_KEY"))
		})
	})

	Describe("--remove flag", func() {
		It("removes stored credentials", func() {
			mgr, err := credentials.NewManager(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(mgr.SetKey("openai", "sk-test")).To(Succeed())

			cmd := newCmd(&bytes.Buffer{})
			cmd.SetArgs([]string{"--remove", "openai", "--config-dir", tmpDir})
			Expect(cmd.Execute()).To(Succeed())

			key, err := mgr.GetKey("openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(BeEmpty())
		})
	})

	Describe("provider argument validation", func() {
		It("returns error when no provider given", func() {
			cmd := newCmd(&bytes.Buffer{})
			cmd.SetArgs([]string{})

			err := cmd.Execute()
			Expect(err).To(MatchError(ContainSubstring("provider argument required")))
		})

		It("returns error for unsupported provider", func() {
			cmd := newCmd(&bytes.Buffer{})
			cmd.SetIn(bytes.NewBufferString("sk-test\n"))
			cmd.SetArgs([]string{"ollama", "--config-dir", tmpDir})

			err := cmd.Execute()
			Expect(err).To(MatchError(ContainSubstring("unsupported provider")))
		})
	})

	Describe("shell completion", func() {
		It("provides provider name completions", func() {
			cmd := authcmder.NewAuthCmd()
			completions, directive := cmd.ValidArgsFunction(cmd, []string{}, "")
			Expect(completions).To(ConsistOf("gemini", "openai"))
			Expect(directive).To(Equal(cobra.ShellCompDirectiveNoFileComp))
		})

		It("provides no completions after first arg", func() {
			cmd := authcmder.NewAuthCmd()
			completions, directive := cmd.ValidArgsFunction(cmd, []string{"openai"}, "")
			Expect(completions).To(BeNil())
			Expect(directive).To(Equal(cobra.ShellCompDirectiveNoFileComp))
		})
	})
})
