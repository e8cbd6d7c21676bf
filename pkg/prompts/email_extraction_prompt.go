package prompts

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed templates/email_extraction_prompt.tmpl
var emailExtractionPromptTemplate string

// PromptAttachment is the text extracted from one attachment, ready to be
// inlined into the prompt.
type PromptAttachment struct {
	Filename string
	Text     string
}

type EmailExtractionPrompt struct {
	Scope            string
	ScopeDescription string
	Sender           string
	Subject          string
	Received         string
	Body             string
	Attachments      []PromptAttachment
	HasImages        bool
}

func BuildEmailExtractionPrompt(data EmailExtractionPrompt) (string, error) {
	if data.ScopeDescription == "" {
		data.ScopeDescription = DescribeScope(data.Scope)
	}
	tmpl, err := template.New("email_extraction").Parse(emailExtractionPromptTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DescribeScope turns a profile scope key into the short context phrase the
// prompts use. Unknown scopes fall back to the key itself, so a new profile
// works without a code change.
func DescribeScope(scope string) string {
	switch scope {
	case "school":
		return "school-to-parent"
	case "hoa":
		return "community association"
	case "":
		return "personal"
	default:
		return scope
	}
}
