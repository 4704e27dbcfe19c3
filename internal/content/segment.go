// Package content splits accumulated assistant text into display segments:
// plain prose, tool-execution blocks and embedded documents.
package content

type Kind string

const (
	KindText     Kind = "text"
	KindTool     Kind = "tool"
	KindDocument Kind = "document"
)

// Segment is one contiguous piece of a message.
type Segment interface {
	Kind() Kind
	segment()
}

type PlainText struct {
	Text string
}

// ToolBlock is the region between the tool markers. When the body is a tool
// record, Name, Input and Output are filled in; otherwise only Raw is.
// Pending is set while the end marker (or the record's output) is missing.
type ToolBlock struct {
	Name    string
	Input   string
	Output  string
	Raw     string
	Pending bool
}

type DocumentBlock struct {
	Filename  string
	Extension string
	Body      string
}

func (PlainText) Kind() Kind     { return KindText }
func (ToolBlock) Kind() Kind     { return KindTool }
func (DocumentBlock) Kind() Kind { return KindDocument }

func (PlainText) segment()     {}
func (ToolBlock) segment()     {}
func (DocumentBlock) segment() {}

// Structured reports whether the block was parsed from a tool record.
func (b ToolBlock) Structured() bool {
	return b.Name != ""
}

// Display returns the text shown for the block body, substituting the
// pending label when nothing has arrived yet.
func (b ToolBlock) Display() string {
	if b.Structured() {
		if b.Pending {
			return PendingLabel
		}
		return b.Output
	}
	if b.Raw == "" && b.Pending {
		return PendingLabel
	}
	return b.Raw
}
