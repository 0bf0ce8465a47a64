// Package templates renders the outreach email for a (channel, variant) pair.
//
// Each variant is a markdown file with YAML frontmatter carrying the subject
// line. The body is executed as a text/template, converted to HTML with
// goldmark and wrapped in the shared HTML layout.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/unclebandit/outreach-driver/internal/model"
)

//go:embed content/*.md content/layout.html
var content embed.FS

const defaultName = "Maker"

var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrInvalidFrontmatter = errors.New("invalid frontmatter")
	ErrNoSubject          = errors.New("template has no subject")
)

// Data is what a template body can reference.
type Data struct {
	Name     string
	FromName string
}

// Rendered is a ready-to-send message body.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type parsed struct {
	subject string
	body    *texttemplate.Template
}

// Renderer caches parsed templates; it is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	layout *template.Template
	policy *bluemonday.Policy

	mu    sync.RWMutex
	cache map[string]*parsed
}

func NewRenderer() (*Renderer, error) {
	raw, err := content.ReadFile("content/layout.html")
	if err != nil {
		return nil, errors.Wrap(err, "read layout")
	}
	layout, err := template.New("layout").Parse(string(raw))
	if err != nil {
		return nil, errors.Wrap(err, "parse layout")
	}
	return &Renderer{
		md:     goldmark.New(),
		layout: layout,
		policy: bluemonday.StrictPolicy(),
		cache:  make(map[string]*parsed),
	}, nil
}

func templateName(ch model.Channel, v model.Variant) string {
	return fmt.Sprintf("content/%s_%s.md", ch, strings.ToLower(string(v)))
}

// Render produces the subject and HTML body for ch and v.
func (r *Renderer) Render(ch model.Channel, v model.Variant, data Data) (*Rendered, error) {
	p, err := r.get(ch, v)
	if err != nil {
		return nil, err
	}

	data.Name = r.cleanName(data.Name)

	var text bytes.Buffer
	if err := p.body.Execute(&text, data); err != nil {
		return nil, errors.Wrap(err, "execute template body")
	}

	// Names are data, never markup: escape them before goldmark sees them.
	var md bytes.Buffer
	if err := p.body.Execute(&md, Data{Name: escapeMarkdown(data.Name), FromName: escapeMarkdown(data.FromName)}); err != nil {
		return nil, errors.Wrap(err, "execute template body")
	}

	var body bytes.Buffer
	if err := r.md.Convert(md.Bytes(), &body); err != nil {
		return nil, errors.Wrap(err, "convert markdown")
	}

	var page bytes.Buffer
	if err := r.layout.Execute(&page, map[string]any{
		"Subject": p.subject,
		"Content": template.HTML(body.String()),
	}); err != nil {
		return nil, errors.Wrap(err, "execute layout")
	}

	return &Rendered{Subject: p.subject, HTML: page.String(), Text: text.String()}, nil
}

// cleanName reduces a scraped display name to plain text on one line.
func (r *Renderer) cleanName(name string) string {
	name = html.UnescapeString(r.policy.Sanitize(name))
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return defaultName
	}
	return name
}

func (r *Renderer) get(ch model.Channel, v model.Variant) (*parsed, error) {
	name := templateName(ch, v)

	r.mu.RLock()
	p, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	raw, err := content.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(ErrTemplateNotFound, "%s/%s", ch, v)
	}
	meta, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	if meta.Subject == "" {
		return nil, errors.Wrap(ErrNoSubject, name)
	}
	tmpl, err := texttemplate.New(name).Parse(body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}

	p = &parsed{subject: meta.Subject, body: tmpl}
	r.cache[name] = p
	return p, nil
}

// markdownPunct is every character a backslash can escape in markdown.
const markdownPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

func escapeMarkdown(s string) string {
	var b strings.Builder
	for _, c := range s {
		if strings.ContainsRune(markdownPunct, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

type frontmatter struct {
	Subject string `yaml:"subject"`
}

// splitFrontmatter separates a leading "---" YAML block from the body.
func splitFrontmatter(raw []byte) (frontmatter, string, error) {
	var meta frontmatter
	delim := []byte("---")

	if !bytes.HasPrefix(raw, delim) {
		return meta, string(raw), nil
	}
	rest := bytes.TrimLeft(bytes.TrimPrefix(raw, delim), "\r\n")
	end := bytes.Index(rest, delim)
	if end == -1 {
		return meta, "", errors.Wrap(ErrInvalidFrontmatter, "closing delimiter not found")
	}
	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		return meta, "", errors.Wrap(ErrInvalidFrontmatter, err.Error())
	}
	body := bytes.TrimLeft(rest[end+len(delim):], "\r\n")
	return meta, string(body), nil
}
