package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"
)

// Page is one page of source text. Plain files without page structure load as
// a single page.
type Page struct {
	Number int
	Text   string
}

// Load reads a source document and returns its pages. Text extraction from
// binary formats happens upstream; what lands on the shared volume is text,
// with form-feed separating pages where the extractor preserved them.
func Load(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrProcessing, path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrProcessing, path)
	}

	var pages []Page
	for i, raw := range strings.Split(string(data), "\f") {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrProcessing, path)
	}
	return pages, nil
}
