package messages

// CheckAuth asks whether a user is signed in.
type CheckAuth struct{}

// AuthStatus answers CheckAuth.
type AuthStatus struct {
	Authenticated bool
	Email         string
	Name          string
}

// GetPageContent asks for the content the user is looking at. Source is a
// file path, or "" / "-" for standard input.
type GetPageContent struct {
	Source string
}

// PageContent answers GetPageContent.
type PageContent struct {
	Title string
	URL   string
	Text  string
}

// AnalyzeContent asks for a generation.
type AnalyzeContent struct {
	Prompt       string
	SystemPrompt string
	Feature      string

	// OnChunk, when set, receives the output as it streams in.
	OnChunk func(string)
}

// AnalyzeResult answers AnalyzeContent.
type AnalyzeResult struct {
	Content string
}
