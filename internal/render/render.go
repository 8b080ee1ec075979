package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// Renderer produces the personalized document for one recipient. Rendering
// is pure: the same template and fields always yield the same bytes, and an
// attempt may render at most once per recipient.
type Renderer interface {
	Render(tpl domain.Template, fields map[string]string) ([]byte, error)
	RenderSubject(tpl domain.Template, fields map[string]string) (string, error)
}

// LetterRenderer substitutes recipient fields into the template body and
// subject using Go template syntax. Unknown placeholders are an error so a
// half-personalized letter never goes out.
type LetterRenderer struct{}

func NewLetterRenderer() *LetterRenderer {
	return &LetterRenderer{}
}

func (r *LetterRenderer) Render(tpl domain.Template, fields map[string]string) ([]byte, error) {
	out, err := execute("body", tpl.Body, fields)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (r *LetterRenderer) RenderSubject(tpl domain.Template, fields map[string]string) (string, error) {
	return execute("subject", tpl.Subject, fields)
}

func execute(name, text string, fields map[string]string) (string, error) {
	parsed, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	if fields == nil {
		fields = map[string]string{}
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
