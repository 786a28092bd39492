package mailbox

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// CodeLength is the number of digits in a passcode.
const CodeLength = 6

// ErrNoCode is returned when a message carries no passcode after the marker.
var ErrNoCode = errors.New("no passcode found")

var digitRun = regexp.MustCompile(`[0-9]+`)

// ExtractCode returns the passcode following marker in body. body may be HTML
// or plain text. The first digit run after the first occurrence of marker is
// the code, and it must be exactly CodeLength digits long.
func ExtractCode(body, marker string) (string, error) {
	if marker == "" {
		return "", errors.New("marker cannot be empty")
	}

	text, err := Text(body)
	if err != nil {
		return "", err
	}

	_, after, found := strings.Cut(text, marker)
	if !found {
		return "", fmt.Errorf("%w: marker %q not in message", ErrNoCode, marker)
	}

	code := digitRun.FindString(after)
	if len(code) != CodeLength {
		return "", fmt.Errorf("%w: expected %d digits after %q, got %q", ErrNoCode, CodeLength, marker, code)
	}
	return code, nil
}

// Text returns the visible text of an HTML document, text nodes joined in
// document order with script and style content dropped. Plain text passes
// through unchanged apart from entity decoding.
func Text(body string) (string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse message body: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "head") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), nil
}
