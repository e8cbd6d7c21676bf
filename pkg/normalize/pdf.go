package normalize

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
)

// ExtractPDFText pulls the plain text out of a PDF attachment. The pdf
// library panics on some malformed files, so the panic is converted into an
// error here; a corrupt attachment must never take down the message.
func ExtractPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("pdf extraction panicked: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, "open pdf")
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", errors.Wrap(err, "extract pdf text")
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", errors.Wrap(err, "read pdf text")
	}
	return buf.String(), nil
}
