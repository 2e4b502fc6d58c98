package notebook

import "time"

// Notebook languages.
const (
	LanguagePython = "python"
	LanguageR      = "r"
)

// Languages lists the supported notebook languages.
var Languages = []string{LanguagePython, LanguageR}

// Cell types.
const (
	CellMarkdown = "markdown"
	CellCode     = "code"
)

// Cell is one notebook cell.
type Cell struct {
	CellType string `json:"cell_type"`
	Source   string `json:"source" jsonschema:"Cell content: markdown text or source code"`
}

// GeneratedNotebook is an analysis notebook for a run.
type GeneratedNotebook struct {
	Name         string    `json:"name"`
	Language     string    `json:"language"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Cells        []Cell    `json:"cells"`
	Dependencies []string  `json:"dependencies"`
	GeneratedAt  time.Time `json:"generated_at"`
	ModelUsed    string    `json:"model_used,omitempty"`
}

// Extension returns the file extension the notebook exports to.
func (n *GeneratedNotebook) Extension() string {
	if n.Language == LanguageR {
		return ".Rmd"
	}
	return ".ipynb"
}

// Filename is the exported file name.
func (n *GeneratedNotebook) Filename() string {
	return n.Name + n.Extension()
}

// draft holds the model-authored fields.
type draft struct {
	Name         string   `json:"name" jsonschema:"Notebook file name without extension, snake_case"`
	Title        string   `json:"title"`
	Description  string   `json:"description" jsonschema:"What the notebook analyzes"`
	Cells        []Cell   `json:"cells"`
	Dependencies []string `json:"dependencies" jsonschema:"Packages the notebook imports"`
}
