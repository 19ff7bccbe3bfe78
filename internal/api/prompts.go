package api

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/teemow/edulab/internal/session"
)

// Assistant features.
const (
	FeatureSummarize = "summarize"
	FeatureQuiz      = "quiz"
	FeatureExplain   = "explain"
	FeatureSuggest   = "suggest"
	FeatureCustom    = "custom"
)

var systemPrompts = map[string]string{
	FeatureSummarize: "You are an educational assistant at VU Amsterdam. You write clear, accurate summaries of course material for university students.",
	FeatureQuiz:      "You are an educational assistant at VU Amsterdam. You write quiz questions that test understanding rather than recall, each with the correct answer and a short explanation.",
	FeatureExplain:   "You are an educational assistant at VU Amsterdam. You explain difficult concepts step by step and use examples where they help.",
	FeatureSuggest:   "You are an educational assistant at VU Amsterdam helping lecturers. You suggest practical teaching activities grounded in the material.",
	FeatureCustom:    "You are an educational assistant at VU Amsterdam. Answer the question using the provided context where it is relevant.",
}

const (
	summaryTemplate        = "Summarize the following content in a {length} summary. Highlight the key concepts and how they relate.\n\n{content}"
	quizTemplate           = "Create {count} {type} questions of {difficulty} difficulty at {level} level about the following content. Include the answers.\n\n{content}"
	explainTopicTemplate   = "Explain {topic} at a {level} level, using the following content as context.\n\n{content}"
	explainGeneralTemplate = "Explain the main concepts of the following content at a {level} level.\n\n{content}"
	suggestTemplate        = "Suggest teaching activities in the format \"{format}\" based on the following content.\n\n{content}"
	essayTemplate          = "Suggest essay questions with grading criteria based on the following content.\n\n{content}"
)

// PromptOptions are the knobs of the feature prompts. Zero values fall back
// to sensible defaults.
type PromptOptions struct {
	Language string

	// summarize
	Length string

	// quiz
	Count        int
	QuestionType string
	Difficulty   string

	// explain
	Topic string
	Level string

	// suggest; "essay" selects the essay variant
	Format string
}

// Prompt is a ready-to-send generation request.
type Prompt struct {
	Text         string
	SystemPrompt string
	Feature      string
}

// SystemPrompt returns the system prompt of feature, or "".
func SystemPrompt(feature string) string {
	return systemPrompts[feature]
}

// LanguageSuffix returns the instruction appended to prompts for a
// non-English language, or "".
func LanguageSuffix(language string) string {
	if language == "" || language == session.LanguageEnglish {
		return ""
	}
	return " IMPORTANT: Please use " + languageDisplayName(language) + " in your response."
}

func languageDisplayName(language string) string {
	if language == session.LanguageDutch {
		return "Dutch"
	}
	if language == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(language)
	return string(unicode.ToUpper(r)) + language[size:]
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// BuildPrompt fills the template of feature with content. For FeatureCustom
// the question is taken from opts.Topic.
func BuildPrompt(feature, content string, opts PromptOptions) (Prompt, error) {
	var template string
	r := []string{"{content}", content}

	switch feature {
	case FeatureSummarize:
		template = summaryTemplate
		r = append(r, "{length}", orDefault(opts.Length, "medium"))
	case FeatureQuiz:
		template = quizTemplate
		count := opts.Count
		if count <= 0 {
			count = 5
		}
		r = append(r,
			"{count}", strconv.Itoa(count),
			"{type}", orDefault(opts.QuestionType, "multiple choice"),
			"{difficulty}", orDefault(opts.Difficulty, "medium"),
			"{level}", "university")
	case FeatureExplain:
		template = explainGeneralTemplate
		if opts.Topic != "" {
			template = explainTopicTemplate
			r = append(r, "{topic}", opts.Topic)
		}
		r = append(r, "{level}", orDefault(opts.Level, "undergraduate"))
	case FeatureSuggest:
		template = suggestTemplate
		if opts.Format == "essay" {
			template = essayTemplate
		}
		r = append(r, "{format}", orDefault(opts.Format, "discussion"))
	case FeatureCustom:
		if opts.Topic == "" {
			return Prompt{}, fmt.Errorf("a question is required for the %s feature", feature)
		}
		text := opts.Topic
		if content != "" {
			text += "\n\nContext:\n" + content
		}
		text += LanguageSuffix(opts.Language)
		return Prompt{Text: text, SystemPrompt: SystemPrompt(feature), Feature: feature}, nil
	default:
		return Prompt{}, fmt.Errorf("unknown feature %q", feature)
	}

	text := strings.NewReplacer(r...).Replace(template + LanguageSuffix(opts.Language))
	return Prompt{Text: text, SystemPrompt: SystemPrompt(feature), Feature: feature}, nil
}
