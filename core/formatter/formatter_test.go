package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// Helper function to create a test listing
func createTestListing() Listing {
	return Listing{
		Definition: "shop.customer",
		Columns:    []string{"name", "status", "join_date"},
		Records: []Record{
			{ID: "01J0A", Identifier: "Alice", Values: map[string]string{"name": "Alice", "status": "vip", "join_date": "2024-03-01"}},
			{ID: "01J0B", Identifier: "Bob", Values: map[string]string{"name": "Bob", "status": ""}},
		},
		Total: 5,
	}
}

// ===========================================
// Registry Tests
// ===========================================

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.formatters == nil {
		t.Fatal("formatters map should be initialized")
	}
	if r.defaultFmt != "table" {
		t.Errorf("default format should be 'table', got %q", r.defaultFmt)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewJSONFormatter()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(NewJSONFormatter()); err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestRegistry_Default_Fallback(t *testing.T) {
	r := NewRegistry()
	if r.Default() != nil {
		t.Error("empty registry should have no default")
	}

	r.Register(NewYAMLFormatter())
	r.Register(NewJSONFormatter())
	if got := r.Default().Name(); got != "json" {
		t.Errorf("fallback default = %q, want first sorted name json", got)
	}

	r.Register(NewTableFormatter())
	if got := r.Default().Name(); got != "table" {
		t.Errorf("default = %q, want table", got)
	}
}

func TestRegistry_SetDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(NewJSONFormatter())

	if err := r.SetDefault("json"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	if r.Default().Name() != "json" {
		t.Errorf("default = %q, want json", r.Default().Name())
	}
	if err := r.SetDefault("xml"); err == nil {
		t.Error("expected error for unregistered formatter")
	}
}

func TestGlobalFunctions(t *testing.T) {
	if got := strings.Join(List(), ","); got != "json,table,yaml" {
		t.Errorf("List() = %s, want json,table,yaml", got)
	}
	for _, name := range []string{"table", "json", "yaml"} {
		if _, ok := Get(name); !ok {
			t.Errorf("formatter %s not registered", name)
		}
	}
	if Default().Name() != "table" {
		t.Errorf("Default() = %s, want table", Default().Name())
	}
}

// ===========================================
// Listing Tests
// ===========================================

func TestListing_Columns(t *testing.T) {
	l := createTestListing()

	if got := l.columns(nil); len(got) != 3 {
		t.Errorf("columns(nil) = %v, want all", got)
	}
	got := l.columns([]string{"status", "missing", "name"})
	if strings.Join(got, ",") != "status,name" {
		t.Errorf("columns = %v, want [status name]", got)
	}
}

func TestRecord_Object(t *testing.T) {
	r := createTestListing().Records[1]
	obj := r.object([]string{"name", "status"})

	if obj["id"] != "01J0B" || obj["identifier"] != "Bob" || obj["name"] != "Bob" {
		t.Errorf("object = %v", obj)
	}
	if v, ok := obj["status"]; !ok || v != nil {
		t.Errorf("unset status should be nil, got %v", v)
	}
}

// ===========================================
// Table Formatter Tests
// ===========================================

func TestTableFormatter_FormatList_Empty(t *testing.T) {
	var buf bytes.Buffer
	f := NewTableFormatter()
	if err := f.FormatList(&buf, Listing{Definition: "shop.customer"}, FormatOptions{}); err != nil {
		t.Fatalf("FormatList failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "No records found.") || !strings.Contains(out, "0 of 0") {
		t.Errorf("output = %q", out)
	}
}

func TestTableFormatter_FormatList_WithRecords(t *testing.T) {
	var buf bytes.Buffer
	f := NewTableFormatter()
	if err := f.FormatList(&buf, createTestListing(), FormatOptions{}); err != nil {
		t.Fatalf("FormatList failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ID", "IDENTIFIER", "JOIN_DATE", "Alice", "vip", "2 of 5"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Bob's unset status and join date render as dashes.
	lines := strings.Split(out, "\n")
	if !strings.HasSuffix(strings.TrimRight(lines[2], " "), "-") {
		t.Errorf("unset values should render as '-': %q", lines[2])
	}
}

func TestTableFormatter_FormatList_Options(t *testing.T) {
	var buf bytes.Buffer
	f := NewTableFormatter()
	err := f.FormatList(&buf, createTestListing(), FormatOptions{Columns: []string{"name"}, NoHeader: true})
	if err != nil {
		t.Fatalf("FormatList failed: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "IDENTIFIER") {
		t.Error("header should be omitted")
	}
	if strings.Contains(out, "vip") {
		t.Error("status column should be filtered out")
	}
}

func TestTableFormatter_FormatRecord(t *testing.T) {
	f := NewTableFormatter()

	var buf bytes.Buffer
	f.FormatRecord(&buf, Listing{}, FormatOptions{})
	if !strings.Contains(buf.String(), "Record not found.") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := f.FormatRecord(&buf, createTestListing(), FormatOptions{}); err != nil {
		t.Fatalf("FormatRecord failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Id:", "01J0A", "Join Date:", "2024-03-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Bob") {
		t.Error("only the first record should be formatted")
	}
}

func TestTableFormatter_FormatError(t *testing.T) {
	var buf bytes.Buffer
	NewTableFormatter().FormatError(&buf, errors.New("boom"))
	if buf.String() != "Error: boom\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTableFormatter_FormatValue(t *testing.T) {
	f := NewTableFormatter()
	tests := []struct {
		val      string
		maxWidth int
		want     string
	}{
		{"", 0, "-"},
		{"short", 10, "short"},
		{"a long description", 10, "a long ..."},
		{"a long description", 0, "a long description"},
	}
	for _, tt := range tests {
		if got := f.formatValue(tt.val, tt.maxWidth); got != tt.want {
			t.Errorf("formatValue(%q, %d) = %q, want %q", tt.val, tt.maxWidth, got, tt.want)
		}
	}
}

func TestTableFormatter_FormatLabel(t *testing.T) {
	f := NewTableFormatter()
	tests := map[string]string{
		"name":       "Name",
		"join_date":  "Join Date",
		"created_at": "Created At",
	}
	for in, want := range tests {
		if got := f.formatLabel(in); got != want {
			t.Errorf("formatLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

// ===========================================
// JSON Formatter Tests
// ===========================================

func TestJSONFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	if err := NewJSONFormatter().FormatList(&buf, createTestListing(), FormatOptions{}); err != nil {
		t.Fatalf("FormatList failed: %v", err)
	}

	var out struct {
		Definition string           `json:"definition"`
		Count      int              `json:"count"`
		Total      int              `json:"total"`
		Data       []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Definition != "shop.customer" || out.Count != 2 || out.Total != 5 {
		t.Errorf("envelope = %+v", out)
	}
	if out.Data[0]["name"] != "Alice" || out.Data[1]["status"] != nil {
		t.Errorf("data = %v", out.Data)
	}
}

func TestJSONFormatter_FormatList_Compact(t *testing.T) {
	var buf bytes.Buffer
	NewJSONFormatter().FormatList(&buf, createTestListing(), FormatOptions{Compact: true})
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("compact output should be one line: %q", buf.String())
	}
}

func TestJSONFormatter_FormatRecord(t *testing.T) {
	f := NewJSONFormatter()

	var buf bytes.Buffer
	f.FormatRecord(&buf, Listing{Definition: "shop.customer"}, FormatOptions{})
	var empty map[string]any
	json.Unmarshal(buf.Bytes(), &empty)
	if empty["data"] != nil {
		t.Errorf("data should be null: %v", empty)
	}

	buf.Reset()
	f.FormatRecord(&buf, createTestListing(), FormatOptions{Columns: []string{"status"}})
	var out struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Data["status"] != "vip" || out.Data["id"] != "01J0A" {
		t.Errorf("data = %v", out.Data)
	}
	if _, ok := out.Data["name"]; ok {
		t.Error("name should be filtered out")
	}
}

func TestJSONFormatter_FormatError(t *testing.T) {
	var buf bytes.Buffer
	NewJSONFormatter().FormatError(&buf, errors.New("boom"))
	var out map[string]string
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil || out["error"] != "boom" {
		t.Errorf("output = %q", buf.String())
	}
}

// ===========================================
// YAML Formatter Tests
// ===========================================

func TestYAMLFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	if err := NewYAMLFormatter().FormatList(&buf, createTestListing(), FormatOptions{}); err != nil {
		t.Fatalf("FormatList failed: %v", err)
	}

	var out struct {
		Definition string           `yaml:"definition"`
		Count      int              `yaml:"count"`
		Total      int              `yaml:"total"`
		Data       []map[string]any `yaml:"data"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if out.Count != 2 || out.Total != 5 || out.Data[1]["identifier"] != "Bob" {
		t.Errorf("output = %+v", out)
	}
}

func TestYAMLFormatter_FormatRecord(t *testing.T) {
	var buf bytes.Buffer
	NewYAMLFormatter().FormatRecord(&buf, createTestListing(), FormatOptions{})

	var out struct {
		Definition string         `yaml:"definition"`
		Data       map[string]any `yaml:"data"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if out.Definition != "shop.customer" || out.Data["join_date"] != "2024-03-01" {
		t.Errorf("output = %+v", out)
	}
}

func TestYAMLFormatter_FormatError(t *testing.T) {
	var buf bytes.Buffer
	NewYAMLFormatter().FormatError(&buf, errors.New("boom"))
	if !strings.Contains(buf.String(), "error: boom") {
		t.Errorf("output = %q", buf.String())
	}
}
