package httpadapter

import (
	"fmt"
	"strings"

	"github.com/pario-ai/polyglot/pkg/models"
)

var styleInstructions = map[models.ConversionStyle]string{
	models.StyleDirect:             "Translate line by line, preserving the original structure and names.",
	models.StyleIdiomatic:          "Rewrite the program the way an experienced developer in the target language would write it.",
	models.StyleModernize:          "Use the most recent stable language features and standard library APIs.",
	models.StyleFrameworkMigration: "Replace source-language frameworks and libraries with their closest target-language equivalents.",
}

// systemPrompt instructs the model to return code only.
func systemPrompt(req models.ConversionRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert software engineer converting %s code to %s.\n",
		req.SourceLanguage, req.TargetLanguage)
	if s, ok := styleInstructions[req.Style]; ok {
		b.WriteString(s)
		b.WriteString("\n")
	}
	if req.StyleGuide != "" && req.StyleGuide != "default" {
		fmt.Fprintf(&b, "Follow the %s style guide.\n", req.StyleGuide)
	}
	if req.IncludeComments {
		b.WriteString("Keep explanatory comments where behaviour is not obvious.\n")
	} else {
		b.WriteString("Do not add comments that were not in the source.\n")
	}
	b.WriteString("Respond with the converted code only, in a single fenced code block.")
	return b.String()
}

func userPrompt(req models.ConversionRequest) string {
	return fmt.Sprintf("```%s\n%s\n```", req.SourceLanguage, req.SourceCode)
}

// stripFence removes one surrounding markdown code fence, if present.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	body := s[nl+1:]
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
