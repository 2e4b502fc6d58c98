package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Content types of exported notebooks.
const (
	ContentTypeIPYNB = "application/x-ipynb+json"
	ContentTypeRmd   = "text/markdown; charset=utf-8"
)

type kernelSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

type ipynbCell struct {
	CellType       string            `json:"cell_type"`
	Metadata       map[string]any    `json:"metadata"`
	Source         []string          `json:"source"`
	Outputs        *[]map[string]any `json:"outputs,omitempty"`
	ExecutionCount *int              `json:"execution_count,omitempty"`
}

type ipynb struct {
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
	Metadata      map[string]any `json:"metadata"`
	Cells         []ipynbCell    `json:"cells"`
}

// Export renders a notebook in its language's interchange format: Jupyter
// nbformat 4 for Python and R Markdown for R. It returns the bytes and the
// content type.
func Export(n *GeneratedNotebook) ([]byte, string, error) {
	if n.Language == LanguageR {
		data, err := RMarkdown(n)
		return data, ContentTypeRmd, err
	}
	data, err := Jupyter(n)
	return data, ContentTypeIPYNB, err
}

// Jupyter renders the notebook as nbformat 4 JSON.
func Jupyter(n *GeneratedNotebook) ([]byte, error) {
	spec := kernelSpec{Name: "python3", DisplayName: "Python 3", Language: "python"}
	if n.Language == LanguageR {
		spec = kernelSpec{Name: "ir", DisplayName: "R", Language: "R"}
	}
	doc := ipynb{
		NBFormat:      4,
		NBFormatMinor: 5,
		Metadata: map[string]any{
			"kernelspec":    spec,
			"language_info": map[string]string{"name": n.Language},
		},
		Cells: make([]ipynbCell, 0, len(n.Cells)),
	}
	for _, c := range n.Cells {
		cell := ipynbCell{CellType: c.CellType, Metadata: map[string]any{}, Source: sourceLines(c.Source)}
		if c.CellType == CellCode {
			outputs := []map[string]any{}
			cell.Outputs = &outputs
		}
		doc.Cells = append(doc.Cells, cell)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	return data, nil
}

// sourceLines splits source the way nbformat stores it: every line but the
// last keeps its newline.
func sourceLines(src string) []string {
	if src == "" {
		return []string{}
	}
	lines := strings.SplitAfter(src, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type rmdOutput struct {
	HTMLDocument struct {
		TOC      bool `yaml:"toc"`
		TOCFloat bool `yaml:"toc_float"`
	} `yaml:"html_document"`
}

type rmdHeader struct {
	Title  string    `yaml:"title"`
	Date   string    `yaml:"date"`
	Output rmdOutput `yaml:"output"`
}

// RMarkdown renders the notebook as an R Markdown document.
func RMarkdown(n *GeneratedNotebook) ([]byte, error) {
	header := rmdHeader{Title: n.Title, Date: n.GeneratedAt.Format("2006-01-02")}
	header.Output.HTMLDocument.TOC = true
	header.Output.HTMLDocument.TOCFloat = true
	front, err := yaml.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	chunk := LanguageR
	if n.Language == LanguagePython {
		chunk = LanguagePython
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	for _, c := range n.Cells {
		switch c.CellType {
		case CellCode:
			fmt.Fprintf(&b, "```{%s}\n%s\n```\n\n", chunk, strings.TrimRight(c.Source, "\n"))
		default:
			b.WriteString(strings.TrimRight(c.Source, "\n"))
			b.WriteString("\n\n")
		}
	}
	return b.Bytes(), nil
}
