package index

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Loader turns raw resource bytes into indexable text.
type Loader func(content []byte) (string, error)

// loaders maps file suffixes to loaders. Unknown suffixes fall through to
// loadDefault.
var loaders = map[string]Loader{
	".html":     loadHTML,
	".htm":      loadHTML,
	".pdf":      loadPDF,
	".md":       loadText,
	".markdown": loadText,
	".txt":      loadText,
	".rst":      loadText,
	".go":       loadCode,
	".py":       loadCode,
	".c":        loadCode,
	".cpp":      loadCode,
	".h":        loadCode,
	".java":     loadCode,
	".js":       loadCode,
	".ts":       loadCode,
	".sh":       loadCode,
	".yaml":     loadText,
	".yml":      loadText,
	".json":     loadText,
}

// LoaderFor picks the loader for a file suffix (including the dot).
func LoaderFor(suffix string) Loader {
	if l, ok := loaders[strings.ToLower(suffix)]; ok {
		return l
	}
	return loadDefault
}

func loadText(content []byte) (string, error) {
	return string(content), nil
}

func loadCode(content []byte) (string, error) {
	return string(content), nil
}

func loadDefault(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("content is not valid UTF-8")
	}
	return string(content), nil
}

// --- HTML ---

var (
	reScript  = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle   = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reComment = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reNav     = regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`)
	reFooter  = regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`)
	reHeader  = regexp.MustCompile(`(?is)<header[\s\S]*?</header>`)
	reBlock   = regexp.MustCompile(`(?i)</(?:p|div|h1|h2|h3|h4|h5|h6|li|tr|blockquote)>`)
	reBreak   = regexp.MustCompile(`(?i)<br\s*/?>`)
	reTag     = regexp.MustCompile(`<[^>]+>`)
	reMultiNL = regexp.MustCompile(`\n{3,}`)
	reMultiSP = regexp.MustCompile(`[ \t]{2,}`)
)

func loadHTML(content []byte) (string, error) {
	s := string(content)
	s = reScript.ReplaceAllString(s, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reComment.ReplaceAllString(s, "")
	s = reNav.ReplaceAllString(s, "")
	s = reFooter.ReplaceAllString(s, "")
	s = reHeader.ReplaceAllString(s, "")
	s = reBlock.ReplaceAllString(s, "\n")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")
	s = decodeHTMLEntities(s)
	s = reMultiSP.ReplaceAllString(s, " ")
	s = reMultiNL.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	var clean []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}
	if len(clean) == 0 {
		return "", fmt.Errorf("no text content in HTML")
	}
	return strings.Join(clean, "\n"), nil
}

func decodeHTMLEntities(s string) string {
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
		"&nbsp;", " ",
		"&mdash;", "—",
		"&ndash;", "–",
		"&hellip;", "...",
	)
	return replacer.Replace(s)
}

// --- PDF ---

var (
	rePDFStream = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
	rePDFText   = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*T[jJ]`)
)

// loadPDF extracts text drawn by Tj/TJ operators from content streams.
// It handles plain and zlib-compressed streams; PDFs using other encodings
// yield an error and the resource is skipped by the sync.
func loadPDF(content []byte) (string, error) {
	var sb strings.Builder
	for _, m := range rePDFStream.FindAllSubmatch(content, -1) {
		data := m[1]
		if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			if inflated, err := io.ReadAll(r); err == nil {
				data = inflated
			}
			r.Close()
		}
		for _, t := range rePDFText.FindAllSubmatch(data, -1) {
			sb.Write(unescapePDFString(t[1]))
			sb.WriteByte(' ')
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no extractable text in PDF")
	}
	return text, nil
}

func unescapePDFString(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		i++
		switch b[i] {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r', 'f', 'b':
			out = append(out, ' ')
		default:
			out = append(out, b[i])
		}
	}
	return out
}
