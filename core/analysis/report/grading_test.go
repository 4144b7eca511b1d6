package report

import "testing"

func TestGrade(t *testing.T) {
	cases := map[int]string{100: "A+", 95: "A+", 94: "A", 90: "A", 89: "B+", 85: "B+", 84: "B", 80: "B", 79: "C", 70: "C", 69: "D", 0: "D"}
	for score, want := range cases {
		if got := Grade(score); got != want {
			t.Fatalf("Grade(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestSummarize(t *testing.T) {
	var findings []Finding
	for i := 0; i < 2; i++ {
		findings = append(findings, Finding{DefectLevel: Mandatory})
	}
	for i := 0; i < 3; i++ {
		findings = append(findings, Finding{DefectLevel: Suggestion})
	}
	s := Summarize(findings)
	if s.Mandatory != 2 || s.Suggestions != 3 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if s.Score != 84 || s.Grade != "B" {
		t.Fatalf("unexpected score %+v", s)
	}

	for i := 0; i < 30; i++ {
		findings = append(findings, Finding{DefectLevel: Mandatory})
	}
	if s := Summarize(findings); s.Score != 0 || s.Grade != "D" {
		t.Fatalf("expected floor at zero, got %+v", s)
	}
	if s := Summarize(nil); s.Score != 100 || s.Grade != "A+" {
		t.Fatalf("expected perfect score, got %+v", s)
	}
}
