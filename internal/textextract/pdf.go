package textextract

import (
	"bytes"
	"regexp"
	"strings"
)

// NaivePDFReader extracts text from uncompressed PDF content streams by
// scanning for Tj/TJ string-show operators between BT/ET text-object
// markers. It does not handle compressed (FlateDecode) streams, CID fonts,
// or complex layout reconstruction — a full parser is exactly the kind of
// black-box external collaborator the specification excludes from scope,
// and no PDF library is available in this module's dependency set, so this
// is a deliberately narrow stdlib fallback rather than a fabricated
// dependency.
type NaivePDFReader struct{}

var (
	textObjectRe = regexp.MustCompile(`(?s)BT(.*?)ET`)
	showStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	showArrayRe  = regexp.MustCompile(`(?s)\[((?:[^\[\]]|\\.)*)\]\s*TJ`)
	arrayPieceRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

func (NaivePDFReader) ExtractText(data []byte) (string, error) {
	var out strings.Builder

	for _, obj := range textObjectRe.FindAllSubmatch(data, -1) {
		body := obj[1]

		for _, m := range showStringRe.FindAllSubmatch(body, -1) {
			out.Write(unescapePDFString(m[1]))
			out.WriteByte(' ')
		}

		for _, m := range showArrayRe.FindAllSubmatch(body, -1) {
			for _, piece := range arrayPieceRe.FindAllSubmatch(m[1], -1) {
				out.Write(unescapePDFString(piece[1]))
			}
			out.WriteByte(' ')
		}

		out.WriteByte('\n')
	}

	return out.String(), nil
}

func unescapePDFString(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte(`\(`), []byte("("))
	b = bytes.ReplaceAll(b, []byte(`\)`), []byte(")"))
	b = bytes.ReplaceAll(b, []byte(`\\`), []byte(`\`))
	return b
}
