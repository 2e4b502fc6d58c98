package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"aco/internal/config"
)

// Requirement defines an external tool the pipeline invokes.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Toolchain lists the executables scripts and environments depend on.
func Toolchain(cfg config.Execution) []Requirement {
	return []Requirement{
		{Name: "uv", Command: cfg.UVBinary, Description: "Creates the per-run virtual environment and installs packages"},
		{Name: "Python", Command: cfg.PythonBinary, Description: "Runs python scripts when no environment exists"},
		{Name: "Bash", Command: cfg.BashBinary, Description: "Runs bash scripts"},
		{Name: "Rscript", Command: cfg.RscriptBinary, Description: "Runs R scripts", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch path, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
			if path != cmd {
				status.Detail = path
			}
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of required dependencies that are not
// available.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s.Name)
		}
	}
	return missing
}
