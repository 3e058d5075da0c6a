package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRequest is returned when a ConversionRequest fails validation.
var ErrInvalidRequest = errors.New("invalid conversion request")

// ConversionStyle controls how literally the source is translated.
type ConversionStyle string

const (
	StyleDirect             ConversionStyle = "direct"
	StyleIdiomatic          ConversionStyle = "idiomatic"
	StyleModernize          ConversionStyle = "modernize"
	StyleFrameworkMigration ConversionStyle = "framework-migration"
)

// ConversionStyles lists every accepted style.
var ConversionStyles = []ConversionStyle{StyleDirect, StyleIdiomatic, StyleModernize, StyleFrameworkMigration}

// DefaultLanguages is the supported-language set used when none is configured.
var DefaultLanguages = []string{
	"python", "javascript", "typescript", "java", "go", "rust",
	"cpp", "csharp", "ruby", "php", "kotlin", "swift",
}

// ConversionRequest asks for source code to be translated into another language.
type ConversionRequest struct {
	SourceCode      string          `json:"source_code" yaml:"source_code" validate:"required"`
	SourceLanguage  string          `json:"source_language" yaml:"source_language" validate:"required"`
	TargetLanguage  string          `json:"target_language" yaml:"target_language" validate:"required,nefield=SourceLanguage"`
	Style           ConversionStyle `json:"style,omitempty" yaml:"style" validate:"omitempty,oneof=direct idiomatic modernize framework-migration"`
	StyleGuide      string          `json:"style_guide,omitempty" yaml:"style_guide"`
	IncludeComments bool            `json:"include_comments,omitempty" yaml:"include_comments"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalized returns a copy with surrounding whitespace trimmed, language tags
// lowercased, and the style defaulted to idiomatic.
func (r ConversionRequest) Normalized() ConversionRequest {
	r.SourceCode = strings.TrimSpace(r.SourceCode)
	r.SourceLanguage = strings.ToLower(strings.TrimSpace(r.SourceLanguage))
	r.TargetLanguage = strings.ToLower(strings.TrimSpace(r.TargetLanguage))
	r.Style = ConversionStyle(strings.ToLower(strings.TrimSpace(string(r.Style))))
	if r.Style == "" {
		r.Style = StyleIdiomatic
	}
	r.StyleGuide = strings.TrimSpace(r.StyleGuide)
	return r
}

// Validate checks a normalized request against the supported-language set.
// A maxSourceBytes of zero disables the size check.
func (r ConversionRequest) Validate(supported []string, maxSourceBytes int) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !slices.Contains(supported, r.SourceLanguage) {
		return fmt.Errorf("%w: unsupported source language %q", ErrInvalidRequest, r.SourceLanguage)
	}
	if !slices.Contains(supported, r.TargetLanguage) {
		return fmt.Errorf("%w: unsupported target language %q", ErrInvalidRequest, r.TargetLanguage)
	}
	if maxSourceBytes > 0 && len(r.SourceCode) > maxSourceBytes {
		return fmt.Errorf("%w: source is %d bytes (max %d)", ErrInvalidRequest, len(r.SourceCode), maxSourceBytes)
	}
	return nil
}
