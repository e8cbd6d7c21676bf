package prompts

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed templates/digest_summary_prompt.tmpl
var digestSummaryPromptTemplate string

type DigestSummaryPrompt struct {
	Scope            string
	ScopeDescription string
	DateRange        string
	MessageCount     int
	DigestJSON       string
}

func BuildDigestSummaryPrompt(data DigestSummaryPrompt) (string, error) {
	if data.ScopeDescription == "" {
		data.ScopeDescription = DescribeScope(data.Scope)
	}
	tmpl, err := template.New("digest_summary").Parse(digestSummaryPromptTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
