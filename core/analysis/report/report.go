// Package report holds the analyzer finding model and turns raw analyzer
// output into the persisted result envelope.
package report

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/cjcard/core/infra/schema"
)

type DefectLevel string

const (
	Mandatory  DefectLevel = "MANDATORY"
	Suggestion DefectLevel = "SUGGESTIONS"
)

// Finding is one defect reported by cjlint.
type Finding struct {
	File         string      `json:"file"`
	Line         int         `json:"line"`
	Column       int         `json:"column"`
	EndLine      int         `json:"endLine"`
	EndColumn    int         `json:"endColumn"`
	AnalyzerName string      `json:"analyzerName"`
	Description  string      `json:"description"`
	DefectLevel  DefectLevel `json:"defectLevel"`
	DefectType   string      `json:"defectType"`
	Language     string      `json:"language"`
}

// AnalysisResult is the value written to the result store.
type AnalysisResult struct {
	Cjlint      []Finding `json:"cjlint"`
	CreatedAt   int64     `json:"created_at"`
	Commit      string    `json:"commit"`
	PackageName string    `json:"package_name"`
}

//go:embed findings.schema.json
var findingsSchema []byte

var findingsValidator = schema.MustCompile("cjlint-report", findingsSchema)

// Parse validates raw analyzer output against the report schema and decodes it.
func Parse(raw string) ([]Finding, error) {
	if err := findingsValidator.Validate([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse cjlint output: %w", err)
	}
	var findings []Finding
	if err := json.Unmarshal([]byte(raw), &findings); err != nil {
		return nil, fmt.Errorf("parse cjlint output: %w", err)
	}
	return findings, nil
}

// Normalize rewrites finding paths under workspace to be workspace-relative.
// Paths outside workspace are returned unchanged. The input is not modified.
func Normalize(findings []Finding, workspace string) []Finding {
	out := make([]Finding, len(findings))
	for i, f := range findings {
		f.File = RelativePath(f.File, workspace)
		out[i] = f
	}
	return out
}

// RelativePath strips workspace from file when file lies inside it, with or
// without a trailing separator on workspace.
func RelativePath(file, workspace string) string {
	root := strings.TrimRight(workspace, "/")
	if root == "" {
		if workspace == "" {
			return file
		}
		return strings.TrimLeft(file, "/")
	}
	if file == root {
		return ""
	}
	if !strings.HasPrefix(file, root+"/") {
		return file
	}
	return strings.TrimLeft(file[len(root):], "/")
}

// Assemble builds the result envelope stamped with now.
func Assemble(findings []Finding, commit, packageName string, now time.Time) AnalysisResult {
	if findings == nil {
		findings = []Finding{}
	}
	return AnalysisResult{
		Cjlint:      findings,
		CreatedAt:   now.Unix(),
		Commit:      commit,
		PackageName: packageName,
	}
}
