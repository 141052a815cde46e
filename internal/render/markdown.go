package render

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/highmark/internal/record"
)

type frontMatter struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Author      string `yaml:"author,omitempty"`
	Kind        string `yaml:"kind"`
	Annotations int    `yaml:"annotations"`
	Updated     string `yaml:"updated,omitempty"`
}

// Markdown renders documents as CommonMark with YAML front matter.
type Markdown struct{}

var _ DocumentRenderer = Markdown{}

type section struct {
	heading string
	page    int
	image   string
	anns    []record.Annotation
}

// Render implements DocumentRenderer.
func (Markdown) Render(doc Document) (string, error) {
	anns := qualifying(doc.Annotations)
	title := strings.TrimSpace(doc.Record.Title)
	if title == "" {
		title = "Untitled"
	}

	fm := frontMatter{
		ID:          doc.Record.ID,
		Title:       title,
		Author:      strings.TrimSpace(doc.Record.Author),
		Kind:        string(doc.Record.Kind),
		Annotations: len(anns),
	}
	if latest := latestModified(anns); latest.Valid {
		fm.Updated = latest.Time().Format(time.RFC3339)
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshal front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", title)
	if fm.Author != "" {
		fmt.Fprintf(&b, "*%s*\n\n", fm.Author)
	}

	var sections []section
	if doc.Record.Kind == record.KindPDF {
		sections = pageSections(doc, anns)
	} else {
		sections = chapterSections(anns)
	}
	for _, s := range sections {
		if s.heading != "" {
			fmt.Fprintf(&b, "## %s\n\n", s.heading)
		}
		if s.image != "" {
			fmt.Fprintf(&b, "![Page %d](<%s>)\n\n", s.page, s.image)
		}
		for _, a := range s.anns {
			writeAnnotation(&b, a)
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

func qualifying(anns []record.Annotation) []record.Annotation {
	out := make([]record.Annotation, 0, len(anns))
	for _, a := range anns {
		if a.Qualifies() {
			out = append(out, a)
		}
	}
	return out
}

func latestModified(anns []record.Annotation) record.ModTime {
	var latest record.ModTime
	for _, a := range anns {
		if a.Modified.After(latest) {
			latest = a.Modified
		}
	}
	return latest
}

// chapterSections groups consecutive annotations sharing a chapter.
func chapterSections(anns []record.Annotation) []section {
	var out []section
	for _, a := range anns {
		chapter := strings.TrimSpace(a.Chapter)
		if len(out) == 0 || out[len(out)-1].heading != chapter {
			out = append(out, section{heading: chapter})
		}
		out[len(out)-1].anns = append(out[len(out)-1].anns, a)
	}
	return out
}

// pageSections groups annotations by page, ascending, with unplaced
// annotations last.
func pageSections(doc Document, anns []record.Annotation) []section {
	rendered := make(map[int]bool, len(doc.Pages))
	for _, p := range doc.Pages {
		rendered[p] = true
	}

	byPage := make(map[int][]record.Annotation)
	for _, a := range anns {
		page := a.Page
		if page < 0 {
			page = 0
		}
		byPage[page] = append(byPage[page], a)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		if p > 0 {
			pages = append(pages, p)
		}
	}
	sort.Ints(pages)

	out := make([]section, 0, len(byPage))
	for _, p := range pages {
		s := section{heading: fmt.Sprintf("Page %d", p), page: p, anns: byPage[p]}
		if rendered[p] && doc.AssetDir != "" {
			s.image = imageLink(doc.DocPath, doc.AssetDir, p)
		}
		out = append(out, s)
	}
	if unplaced := byPage[0]; len(unplaced) > 0 {
		out = append(out, section{heading: "Other highlights", anns: unplaced})
	}
	return out
}

// imageLink returns the page image path relative to the document.
func imageLink(docPath, assetDir string, page int) string {
	depth := strings.Count(path.Dir(docPath), "/")
	if path.Dir(docPath) != "." {
		depth++
	}
	return strings.Repeat("../", depth) + path.Join(assetDir, PageAssetName(page))
}

func writeAnnotation(b *strings.Builder, a record.Annotation) {
	if text := strings.TrimSpace(a.Text); text != "" {
		for _, line := range strings.Split(text, "\n") {
			b.WriteString(">")
			if l := strings.TrimRight(line, " \t\r"); l != "" {
				b.WriteString(" ")
				b.WriteString(l)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if note := strings.TrimSpace(a.Note); note != "" {
		fmt.Fprintf(b, "**Note:** %s\n\n", note)
	}
}
