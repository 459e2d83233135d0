package pyname

import "testing"

func TestParseFilenameRoundTrip(t *testing.T) {
	tests := []struct {
		name         string
		filename     string
		declaredName string
	}{
		{"sdist", "hello_world-1.2.3.tar.gz", "hello_world"},
		{"sdist with hyphenated name", "hello-world-1.2.3.tar.gz", "hello-world"},
		{"wheel no build tag", "hello_world-1.2.3-py3-none-any.whl", "hello_world"},
		{"wheel with build tag", "hello_world-1.2.3-2-py3-none-any.whl", "hello_world"},
		{"wheel compressed platform tag", "hello_world-1.2.3-cp311-cp311-manylinux_2_17_x86_64.manylinux2014_x86_64.whl", "hello_world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := ParseFilename(tt.filename, tt.declaredName)
			if err != nil {
				t.Fatalf("ParseFilename(%q) error = %v", tt.filename, err)
			}
			got, err := FormatFilename(dist)
			if err != nil {
				t.Fatalf("FormatFilename(%+v) error = %v", dist, err)
			}
			if got != tt.filename {
				t.Errorf("round trip: got %q, want %q (parsed %+v)", got, tt.filename, dist)
			}
		})
	}
}

func TestParseFilenameFields(t *testing.T) {
	dist, err := ParseFilename("hello_world-1.2.3-2-py3-none-any.whl", "hello_world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist.Kind != KindWheel {
		t.Errorf("Kind = %v, want KindWheel", dist.Kind)
	}
	if dist.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", dist.Version)
	}
	if dist.Build != "2" {
		t.Errorf("Build = %q, want 2", dist.Build)
	}
	if dist.Arch != "py3-none-any" {
		t.Errorf("Arch = %q, want py3-none-any", dist.Arch)
	}
}

func TestParseSdistArch(t *testing.T) {
	dist, err := ParseFilename("hello-1.0.tar.gz", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist.Kind != KindSdist {
		t.Errorf("Kind = %v, want KindSdist", dist.Kind)
	}
	if dist.Arch != ".tar.gz" {
		t.Errorf("Arch = %q, want .tar.gz", dist.Arch)
	}
}

func TestParseFilenameRejects(t *testing.T) {
	tests := []struct {
		name         string
		filename     string
		declaredName string
	}{
		{"unrecognized extension", "hello-1.0.zip", "hello"},
		{"name mismatch sdist", "hello-1.0.tar.gz", "goodbye"},
		{"name mismatch wheel", "hello-1.0-py3-none-any.whl", "goodbye"},
		{"too few wheel fields", "hello-1.0-any.whl", "hello"},
		{"too many wheel fields", "hello-1.0-1-2-py3-none-any.whl", "hello"},
		{"empty sdist stem", ".tar.gz", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFilename(tt.filename, tt.declaredName); err == nil {
				t.Errorf("ParseFilename(%q, %q) expected error, got none", tt.filename, tt.declaredName)
			}
		})
	}
}

func TestFormatFilenameUnknownKind(t *testing.T) {
	if _, err := FormatFilename(Distribution{}); err == nil {
		t.Error("expected error formatting a zero-value Distribution")
	}
}
