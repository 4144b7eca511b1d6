package report

// Summary is the score card derived from a result.
type Summary struct {
	Mandatory   int    `json:"mandatory"`
	Suggestions int    `json:"suggestions"`
	Score       int    `json:"score"`
	Grade       string `json:"grade"`
}

const (
	mandatoryPenalty  = 5
	suggestionPenalty = 2
)

var gradeBands = []struct {
	min   int
	grade string
}{
	{95, "A+"},
	{90, "A"},
	{85, "B+"},
	{80, "B"},
	{70, "C"},
}

// Summarize counts findings by level and grades the result.
func Summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.DefectLevel {
		case Mandatory:
			s.Mandatory++
		case Suggestion:
			s.Suggestions++
		}
	}
	s.Score = max(0, 100-mandatoryPenalty*s.Mandatory-suggestionPenalty*s.Suggestions)
	s.Grade = Grade(s.Score)
	return s
}

func Grade(score int) string {
	for _, b := range gradeBands {
		if score >= b.min {
			return b.grade
		}
	}
	return "D"
}
