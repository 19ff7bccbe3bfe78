package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teemow/edulab/internal/api"
	"github.com/teemow/edulab/internal/messages"
)

// contentFeatures are the features that work on a piece of content.
var contentFeatures = []featureCmd{
	{
		feature: api.FeatureSummarize,
		short:   "Summarize course material",
	},
	{
		feature: api.FeatureQuiz,
		short:   "Write quiz questions about course material",
	},
	{
		feature: api.FeatureExplain,
		short:   "Explain the concepts in course material",
	},
	{
		feature: api.FeatureSuggest,
		short:   "Suggest teaching activities for course material",
	},
}

type featureCmd struct {
	feature string
	short   string
}

// generateFlags are the options shared by the generating commands.
type generateFlags struct {
	client   ClientConfig
	prompt   api.PromptOptions
	noStream bool
}

func addGenerateFlags(cmd *cobra.Command, f *generateFlags) {
	addClientFlags(cmd, &f.client)
	cmd.Flags().StringVar(&f.prompt.Language, "language", "", "Response language: english or dutch (default from `edulab config`)")
	cmd.Flags().BoolVar(&f.noStream, "no-stream", false, "Wait for the full answer instead of streaming it")
}

func newFeatureCmd(fc featureCmd) *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   fc.feature + " [file]",
		Short: fc.short,
		Long: fc.short + `.

The content is read from file, or from standard input when file is omitted
or "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := ""
			if len(args) == 1 {
				source = args[0]
			}
			return runGenerate(cmd, &f, fc.feature, source)
		},
	}

	addGenerateFlags(cmd, &f)
	switch fc.feature {
	case api.FeatureSummarize:
		cmd.Flags().StringVar(&f.prompt.Length, "length", "medium", "Summary length: short, medium or long")
	case api.FeatureQuiz:
		cmd.Flags().IntVar(&f.prompt.Count, "count", 5, "Number of questions")
		cmd.Flags().StringVar(&f.prompt.QuestionType, "type", "multiple choice", "Question type")
		cmd.Flags().StringVar(&f.prompt.Difficulty, "difficulty", "medium", "Difficulty: easy, medium or hard")
	case api.FeatureExplain:
		cmd.Flags().StringVar(&f.prompt.Topic, "topic", "", "Concept to explain; the main concepts when empty")
		cmd.Flags().StringVar(&f.prompt.Level, "level", "undergraduate", "Audience level")
	case api.FeatureSuggest:
		cmd.Flags().StringVar(&f.prompt.Format, "format", "discussion", `Activity format; "essay" suggests essay questions with grading criteria`)
	}
	return cmd
}

func newAskCmd() *cobra.Command {
	var (
		f           generateFlags
		contextFile string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question, optionally about a file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.prompt.Topic = strings.Join(args, " ")
			if contextFile == "" {
				return runPrompt(cmd, &f, api.FeatureCustom, "")
			}
			return runGenerate(cmd, &f, api.FeatureCustom, contextFile)
		},
	}

	addGenerateFlags(cmd, &f)
	cmd.Flags().StringVar(&contextFile, "context", "", `File to use as context ("-" for standard input)`)
	return cmd
}

// runGenerate fetches the content of source over the bus and generates
// feature for it.
func runGenerate(cmd *cobra.Command, f *generateFlags, feature, source string) error {
	app, err := newClientApp(cmd.Context(), f.client, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer app.Close()

	page, err := messages.Send[messages.GetPageContent, messages.PageContent](cmd.Context(), app.bus, messages.KindGetPageContent, messages.GetPageContent{Source: source})
	if err != nil {
		return err
	}
	return generate(cmd, app, f, feature, page.Text)
}

func runPrompt(cmd *cobra.Command, f *generateFlags, feature, content string) error {
	app, err := newClientApp(cmd.Context(), f.client, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer app.Close()
	return generate(cmd, app, f, feature, content)
}

func generate(cmd *cobra.Command, app *clientApp, f *generateFlags, feature, content string) error {
	opts := f.prompt
	if opts.Language == "" {
		opts.Language = app.language()
	}
	prompt, err := api.BuildPrompt(feature, content, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	req := messages.AnalyzeContent{
		Prompt:       prompt.Text,
		SystemPrompt: prompt.SystemPrompt,
		Feature:      prompt.Feature,
	}

	spinner, _ := pterm.DefaultSpinner.Start("Generating...")
	var stopSpinner sync.Once
	stop := func() { stopSpinner.Do(func() { _ = spinner.Stop() }) }
	defer stop()

	streamed := false
	if !f.noStream {
		req.OnChunk = func(chunk string) {
			stop()
			streamed = true
			_, _ = io.WriteString(out, chunk)
		}
	}

	result, err := messages.Send[messages.AnalyzeContent, messages.AnalyzeResult](cmd.Context(), app.bus, messages.KindAnalyzeContent, req)
	stop()
	if err != nil {
		reportGenerateError(err)
		return err
	}

	if streamed {
		_, _ = fmt.Fprintln(out)
		return nil
	}
	_, _ = fmt.Fprintln(out, result.Content)
	return nil
}

func reportGenerateError(err error) {
	var backendErr *api.BackendError
	switch {
	case errors.Is(err, api.ErrNotAuthenticated), errors.Is(err, api.ErrAuthExpired):
		pterm.Warning.Println(api.UserMessage(err), "Run `edulab login` to sign in.")
	case errors.Is(err, api.ErrBackendUnreachable):
		pterm.Warning.Println("Start the proxy with `edulab serve` or set EDULAB_BACKEND_URL.")
	case errors.As(err, &backendErr) && backendErr.Detail != "":
		pterm.Error.Println(backendErr.Detail)
	}
}

func newCheckCmd() *cobra.Command {
	var cfg ClientConfig

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the connection to the proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newClientApp(cmd.Context(), cfg, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := app.api.ValidateConnection(cmd.Context())
			if err != nil {
				pterm.Error.Printfln("Proxy at %s is not healthy", app.api.BaseURL)
				reportGenerateError(err)
				return err
			}

			pterm.Success.Printfln("Proxy at %s is healthy (spent today: $%s of $%.2f)",
				app.api.BaseURL, status.Health.DailyCost, status.Health.DailyLimit)
			if status.Authenticated {
				pterm.Success.Printfln("Signed in as %s", status.User.Email)
				return nil
			}
			pterm.Warning.Printfln("Not authenticated: %v", status.Err)
			reportGenerateError(status.Err)
			return nil
		},
	}

	addClientFlags(cmd, &cfg)
	return cmd
}
