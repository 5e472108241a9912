package messenger

import (
	"bytes"
	"embed"
	"fmt"
	"path"

	"github.com/alecthomas/template"
	"github.com/goccy/go-json"
)

//go:embed templates/*.json
var templateFS embed.FS

var replyTemplates = mustParseTemplates()

func mustParseTemplates() *template.Template {
	root := template.New("replies").Funcs(template.FuncMap{
		"json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	})
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		panic(err)
	}
	for _, entry := range entries {
		data, err := templateFS.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			panic(err)
		}
		if _, err := root.New(entry.Name()).Parse(string(data)); err != nil {
			panic(fmt.Sprintf("parse %s: %v", entry.Name(), err))
		}
	}
	return root
}

// Render executes the named template and returns the raw JSON.
func Render(name string, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := replyTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func renderMessage(name string, data interface{}) (*Message, error) {
	raw, err := Render(name, data)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &msg, nil
}

// AccountLink builds the generic template carrying the log in button.
func AccountLink(title, imageURL, loginURL string) (*Message, error) {
	return renderMessage("account_link.json", map[string]string{
		"Title":    title,
		"ImageURL": imageURL,
		"LoginURL": loginURL,
	})
}

// AccountUnlink builds the generic template carrying the log out button.
func AccountUnlink(title, imageURL string) (*Message, error) {
	return renderMessage("account_unlink.json", map[string]string{
		"Title":    title,
		"ImageURL": imageURL,
	})
}

// Buttons builds a button template of postback buttons.
func Buttons(text string, buttons []Button) (*Message, error) {
	return renderMessage("buttons.json", struct {
		Text    string
		Buttons []Button
	}{text, buttons})
}
