package api

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguageSuffix(t *testing.T) {
	assert.Empty(t, LanguageSuffix(""))
	assert.Empty(t, LanguageSuffix("english"))
	assert.Equal(t, " IMPORTANT: Please use Dutch in your response.", LanguageSuffix("dutch"))
	assert.Equal(t, " IMPORTANT: Please use German in your response.", LanguageSuffix("german"))
	assert.Equal(t, " IMPORTANT: Please use Íslenska in your response.", LanguageSuffix("íslenska"))
	assert.True(t, utf8.ValidString(LanguageSuffix("ελληνικά")))
}

func TestBuildPrompt(t *testing.T) {
	const page = "Title: Cells\n\nCells are the basic unit of life."

	tests := []struct {
		name         string
		feature      string
		opts         PromptOptions
		wantContains []string
		wantSuffix   string
	}{
		{
			name:         "summary defaults",
			feature:      FeatureSummarize,
			wantContains: []string{"medium summary", page},
		},
		{
			name:         "quiz",
			feature:      FeatureQuiz,
			opts:         PromptOptions{Count: 3, QuestionType: "open", Difficulty: "hard"},
			wantContains: []string{"Create 3 open questions of hard difficulty at university level", page},
		},
		{
			name:         "explain topic",
			feature:      FeatureExplain,
			opts:         PromptOptions{Topic: "mitosis", Level: "beginner"},
			wantContains: []string{"Explain mitosis at a beginner level"},
		},
		{
			name:         "explain general",
			feature:      FeatureExplain,
			wantContains: []string{"main concepts", "undergraduate"},
		},
		{
			name:         "essay suggestions",
			feature:      FeatureSuggest,
			opts:         PromptOptions{Format: "essay"},
			wantContains: []string{"essay questions"},
		},
		{
			name:         "dutch suffix",
			feature:      FeatureSummarize,
			opts:         PromptOptions{Language: "dutch"},
			wantSuffix:   " IMPORTANT: Please use Dutch in your response.",
			wantContains: []string{page},
		},
		{
			name:         "custom question with context",
			feature:      FeatureCustom,
			opts:         PromptOptions{Topic: "What is a cell?"},
			wantContains: []string{"What is a cell?\n\nContext:\n" + page},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildPrompt(tt.feature, page, tt.opts)
			require.NoError(t, err)

			assert.Equal(t, tt.feature, p.Feature)
			assert.Equal(t, SystemPrompt(tt.feature), p.SystemPrompt)
			assert.NotEmpty(t, p.SystemPrompt)
			for _, s := range tt.wantContains {
				assert.Contains(t, p.Text, s)
			}
			if tt.wantSuffix != "" {
				assert.True(t, len(p.Text) > len(tt.wantSuffix))
				assert.Equal(t, tt.wantSuffix, p.Text[len(p.Text)-len(tt.wantSuffix):])
			}
			assert.NotContains(t, p.Text, "{")
		})
	}
}

func TestBuildPromptDoesNotExpandPlaceholdersInContent(t *testing.T) {
	p, err := BuildPrompt(FeatureSummarize, "literal {length} in the page", PromptOptions{Length: "short"})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "literal {length} in the page")
}

func TestBuildPromptErrors(t *testing.T) {
	_, err := BuildPrompt("poetry", "x", PromptOptions{})
	assert.Error(t, err)

	_, err = BuildPrompt(FeatureCustom, "x", PromptOptions{})
	assert.Error(t, err)
}
