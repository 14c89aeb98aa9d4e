package primitive

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

var contentFilePattern = regexp.MustCompile(`^(.+)\.v([1-9][0-9]*)\.md$`)

// ContentFileName returns the file name holding version v of primitive id
func ContentFileName(id string, v int) string {
	return fmt.Sprintf("%s.v%d.md", id, v)
}

// ParseContentFileName extracts the id and version from a content file name
func ParseContentFileName(name string) (id string, version int, ok bool) {
	m := contentFilePattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	v, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], v, true
}

// ReadContent reads the content file of version v
func ReadContent(dir, id string, v int) ([]byte, error) {
	path := filepath.Join(dir, ContentFileName(id, v))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read content for version %d", v)
	}
	return data, nil
}

// FrontmatterKeys lists the keys a content file's frontmatter may carry
var FrontmatterKeys = []string{"description", "argument-hint", "title"}

// SplitFrontmatter parses the optional YAML frontmatter of a content file
// and returns it together with the markdown body that follows it.
func SplitFrontmatter(content []byte) (map[string]any, string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, "", errors.Wrap(err, "failed to parse markdown")
	}

	fm, err := meta.TryGet(pctx)
	if err != nil {
		return nil, "", errors.Wrap(err, "invalid frontmatter")
	}

	return fm, extractBody(string(content)), nil
}

// extractBody removes a leading frontmatter block and returns the rest
func extractBody(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return content
	}

	lines := strings.Split(content, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return content
	}

	return strings.TrimLeft(strings.Join(lines[end+1:], "\n"), "\n")
}

// FrontmatterString returns a string frontmatter value or ""
func FrontmatterString(fm map[string]any, key string) string {
	if fm == nil {
		return ""
	}
	s, _ := fm[key].(string)
	return s
}
