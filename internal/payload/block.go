package payload

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

const maxBlockTextRunes = 20000

// LoadBlock reads a single data block from path. JSON and YAML files must
// hold an object. PDF datasheets and HTML product pages are reduced to
// their text under "datasheet_text" and "page_text".
func LoadBlock(path string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var block map[string]any
		if err := json.Unmarshal(data, &block); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return block, nil
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var block map[string]any
		if err := yaml.Unmarshal(data, &block); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return block, nil
	case ".pdf":
		text, err := pdfText(path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"datasheet_text": truncateRunes(text, maxBlockTextRunes)}, nil
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		text, err := htmlText(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return map[string]any{"page_text": truncateRunes(text, maxBlockTextRunes)}, nil
	default:
		return nil, fmt.Errorf("unsupported block file type %q", filepath.Ext(path))
	}
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.Join(strings.Fields(string(b)), " "), nil
}

// htmlText returns the visible text of a document, skipping script and
// style contents.
func htmlText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var parts []string
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return strings.Join(parts, " "), nil
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.Join(strings.Fields(string(z.Text())), " "); text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style" || name == "noscript"
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
