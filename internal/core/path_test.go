package core

import (
	"errors"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain path", "/docs/report.txt", "/docs/report.txt"},
		{"backslashes", `docs\reports\q1.txt`, "docs/reports/q1.txt"},
		{"repeated slashes", "/docs//reports///q1.txt", "/docs/reports/q1.txt"},
		{"percent encoded", "/docs/annual%20report.txt", "/docs/annual report.txt"},
		{"encoded slash collapses too", "/docs%2F/report.txt", "/docs/report.txt"},
		{"mixed separators", `\docs\\sub//file.txt`, "/docs/sub/file.txt"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if err != nil {
				t.Fatalf("NormalizePath(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_invalidEncoding(t *testing.T) {
	_, err := NormalizePath("/docs/bad%zzname.txt")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("NormalizePath() error = %v, want ErrValidation", err)
	}
}

func TestNormalizePath_equivalentFormsConverge(t *testing.T) {
	forms := []string{
		"/docs/a.txt",
		`\docs\a.txt`,
		"/docs//a.txt",
		"%2Fdocs%2Fa.txt",
	}
	for _, f := range forms {
		got, err := NormalizePath(f)
		if err != nil {
			t.Fatalf("NormalizePath(%q) error = %v", f, err)
		}
		if got != "/docs/a.txt" {
			t.Errorf("NormalizePath(%q) = %q, want /docs/a.txt", f, got)
		}
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/docs/report.txt", "report.txt"},
		{"report.txt", "report.txt"},
		{"/docs/sub/", "sub"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.in); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
