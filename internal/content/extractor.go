package content

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	ToolStartMarker = "---START---"
	ToolEndMarker   = "---END---"

	// PendingLabel stands in for tool output that has not arrived yet.
	PendingLabel = "Processing..."

	defaultExtension = "txt"
)

var (
	// Non-greedy body: the first closing fence ends the document.
	documentPattern = regexp.MustCompile("(?s)```document:([^\n]+)\n(.*?)```")
	recordPattern   = regexp.MustCompile(`(?s)^tool: ([^\n]*)\ninput: (.*?)(?:\noutput: (.*))?$`)
)

// Unescape turns escaped backslashes into single ones, then literal \n
// sequences into newlines. The order is fixed; swapping it corrupts text
// such as escaped Windows paths.
func Unescape(text string) string {
	text = strings.ReplaceAll(text, `\\`, `\`)
	return strings.ReplaceAll(text, `\n`, "\n")
}

// Extract splits text into segments in document order. It is recomputed
// from scratch on every call: a document without its closing fence is plain
// text until the fence arrives, while an unterminated tool block is reported
// as pending.
func Extract(text string) []Segment {
	text = Unescape(text)

	var segs []Segment
	last := 0
	for _, m := range documentPattern.FindAllStringSubmatchIndex(text, -1) {
		segs = appendToolRegion(segs, text[last:m[0]])
		segs = append(segs, newDocument(text[m[2]:m[3]], text[m[4]:m[5]]))
		last = m[1]
	}
	return appendToolRegion(segs, text[last:])
}

func appendToolRegion(segs []Segment, region string) []Segment {
	for {
		start := strings.Index(region, ToolStartMarker)
		if start < 0 {
			return appendPlain(segs, region)
		}
		segs = appendPlain(segs, region[:start])

		body := strings.TrimPrefix(region[start+len(ToolStartMarker):], "\n")
		end := strings.Index(body, ToolEndMarker)
		if end < 0 {
			return append(segs, newToolBlock(body, true))
		}
		segs = append(segs, newToolBlock(strings.TrimSuffix(body[:end], "\n"), false))
		region = body[end+len(ToolEndMarker):]
	}
}

func appendPlain(segs []Segment, text string) []Segment {
	if text == "" {
		return segs
	}
	return append(segs, PlainText{Text: text})
}

func newToolBlock(body string, open bool) ToolBlock {
	m := recordPattern.FindStringSubmatchIndex(body)
	if m == nil {
		return ToolBlock{Raw: body, Pending: open}
	}
	b := ToolBlock{
		Name:    body[m[2]:m[3]],
		Input:   body[m[4]:m[5]],
		Raw:     body,
		Pending: open,
	}
	if m[6] < 0 {
		b.Pending = true
	} else {
		b.Output = body[m[6]:m[7]]
	}
	return b
}

func newDocument(filename, body string) DocumentBlock {
	filename = strings.TrimSpace(filename)
	return DocumentBlock{
		Filename:  filename,
		Extension: Extension(filename),
		Body:      strings.TrimSpace(body),
	}
}

// Extension returns the suffix after the last dot, or "txt" when the name
// has none (a leading dot alone does not count).
func Extension(filename string) string {
	dot := strings.LastIndex(filename, ".")
	if dot <= 0 || dot == len(filename)-1 {
		return defaultExtension
	}
	return filename[dot+1:]
}

// Placeholder is the token that stands in for a document in a working copy.
func Placeholder(filename string) string {
	return fmt.Sprintf("[DOCUMENT: %s]", filename)
}

// ReplaceDocuments swaps every complete document block for its placeholder
// and returns the documents in order of appearance.
func ReplaceDocuments(text string) (string, []DocumentBlock) {
	var (
		b    strings.Builder
		docs []DocumentBlock
		last int
	)
	for _, m := range documentPattern.FindAllStringSubmatchIndex(text, -1) {
		doc := newDocument(text[m[2]:m[3]], text[m[4]:m[5]])
		docs = append(docs, doc)
		b.WriteString(text[last:m[0]])
		b.WriteString(Placeholder(doc.Filename))
		last = m[1]
	}
	if docs == nil {
		return text, nil
	}
	b.WriteString(text[last:])
	return b.String(), docs
}

// FormatToolRecord renders a complete marker-delimited tool record. A
// pending record has no output line.
func FormatToolRecord(name, input, output string, pending bool) string {
	var b strings.Builder
	b.WriteString(ToolStartMarker)
	b.WriteString("\ntool: ")
	b.WriteString(strings.ReplaceAll(name, "\n", " "))
	b.WriteString("\ninput: ")
	b.WriteString(input)
	if !pending {
		b.WriteString("\noutput: ")
		b.WriteString(output)
	}
	b.WriteString("\n")
	b.WriteString(ToolEndMarker)
	return b.String()
}
