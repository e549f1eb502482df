package notify

import (
	"bytes"
	"context"
	"strings"
	"text/template"
	"unicode/utf8"

	"nexuswatch/internal/incidents"
)

// Summarizer turns a verified incident into announcement text. A
// language-model backed implementation lives outside this service.
type Summarizer interface {
	Summarize(ctx context.Context, inc *incidents.Incident) (string, error)
}

const defaultSummaryTemplate = `⚠️ Verified by the ETC Community ({{.Watchers}} watchers): suspicious activity reported for {{.SuspiciousAddress}}.
{{truncate .Details 140}}
#EthereumClassic #ETC Stay safe and DYOR.`

type TemplateSummarizer struct {
	tmpl *template.Template
}

func NewTemplateSummarizer() *TemplateSummarizer {
	t := template.Must(template.New("summary").
		Funcs(template.FuncMap{"truncate": truncate}).
		Parse(defaultSummaryTemplate))
	return &TemplateSummarizer{tmpl: t}
}

func (s *TemplateSummarizer) Summarize(ctx context.Context, inc *incidents.Incident) (string, error) {
	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, struct {
		SuspiciousAddress string
		Details           string
		Watchers          int
	}{
		SuspiciousAddress: inc.SuspiciousAddress,
		Details:           strings.TrimSpace(inc.Details),
		Watchers:          len(inc.Verifiers),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
