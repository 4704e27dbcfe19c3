package render

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/content"
)

var (
	toolBoxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	toolTitleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	toolInputStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	toolOutputStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	documentTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	failureStyle       = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("160")).Foreground(lipgloss.Color("203")).Padding(0, 1)
	userStyle          = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
)

// Terminal draws segments for a terminal. With Styled off the output is
// plain text suitable for pipes.
type Terminal struct {
	styled   bool
	markdown *glamour.TermRenderer
}

func NewTerminal(styled bool, wordWrap int) *Terminal {
	t := &Terminal{styled: styled}
	if !styled {
		return t
	}
	if wordWrap <= 0 {
		wordWrap = 80
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err == nil {
		t.markdown = md
	}
	return t
}

// Segments renders a full set of segments in order.
func (t *Terminal) Segments(segs []content.Segment) string {
	var b strings.Builder
	for _, seg := range segs {
		switch v := seg.(type) {
		case content.PlainText:
			b.WriteString(t.plain(v.Text))
		case content.ToolBlock:
			b.WriteString(t.tool(v))
			b.WriteString("\n")
		case content.DocumentBlock:
			b.WriteString(t.document(v))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Message renders one finished conversation entry.
func (t *Terminal) Message(m Message) string {
	if m.Role == chat.RoleUser {
		prefix := "you> "
		if t.styled {
			prefix = userStyle.Render(prefix)
		}
		return prefix + m.Content + "\n"
	}
	return t.Segments(content.Extract(m.Content))
}

// Failure renders an error so it stands apart from assistant output.
func (t *Terminal) Failure(msg string) string {
	if !t.styled {
		return "error: " + msg + "\n"
	}
	return failureStyle.Render("error: "+msg) + "\n"
}

func (t *Terminal) plain(text string) string {
	if t.markdown == nil {
		return text
	}
	out, err := t.markdown.Render(text)
	if err != nil {
		return text
	}
	return out
}

func (t *Terminal) tool(b content.ToolBlock) string {
	title := "tool"
	if b.Name != "" {
		title = "~/" + b.Name
	}
	if b.Pending {
		title += " (running)"
	}

	var lines []string
	if !t.styled {
		lines = append(lines, "[ "+title+" ]")
		if b.Structured() {
			lines = append(lines, "$ input", b.Input, "$ output")
		}
		lines = append(lines, b.Display(), "[ end ]")
		return strings.Join(lines, "\n")
	}

	lines = append(lines, toolTitleStyle.Render(title))
	if b.Structured() {
		lines = append(lines,
			toolTitleStyle.Render("$ input"), toolInputStyle.Render(b.Input),
			toolTitleStyle.Render("$ output"))
	}
	lines = append(lines, toolOutputStyle.Render(b.Display()))
	return toolBoxStyle.Render(strings.Join(lines, "\n"))
}

func (t *Terminal) document(d content.DocumentBlock) string {
	lang := Language(d)
	header := fmt.Sprintf("%s (%s)", d.Filename, lang)
	if !t.styled {
		return "=== " + header + " ===\n" + d.Body + "\n=== end " + d.Filename + " ==="
	}
	return documentTitleStyle.Render(header) + "\n" + highlight(d.Body, d)
}

// Language names the syntax of a document, preferring a filename match
// over the bare extension.
func Language(d content.DocumentBlock) string {
	lexer := lexerFor(d)
	if lexer == nil {
		return "plaintext"
	}
	return lexer.Config().Name
}

func lexerFor(d content.DocumentBlock) chroma.Lexer {
	if l := lexers.Match(d.Filename); l != nil {
		return l
	}
	return lexers.Get(d.Extension)
}

func highlight(code string, d content.DocumentBlock) string {
	lexer := lexerFor(d)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
