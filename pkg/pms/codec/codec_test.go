package codec_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/pms/pkg/pms/codec"
)

func Test_DetectFormat_Picks_Format_From_Name(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want codec.Format
	}{
		{path: "docs/blueprint.md", want: codec.FormatBlueprint},
		{path: "docs/02_blueprint.md", want: codec.FormatBlueprint},
		{path: "/abs/memory/memory_index.yaml", want: codec.FormatYAML},
		{path: "backlog_f1.yml", want: codec.FormatYAML},
		{path: "blueprint_changes.csv", want: codec.FormatCSV},
		{path: "memory/project_status.md", want: codec.FormatRaw},
		{path: "blueprint.md.bak", want: codec.FormatRaw},
		{path: "notes", want: codec.FormatRaw},
	}

	for _, tt := range tests {
		if got := codec.DetectFormat(tt.path); got != tt.want {
			t.Errorf("DetectFormat(%q)=%q, want=%q", tt.path, got, tt.want)
		}
	}
}

func Test_DecodeYAML_Returns_Empty_Map_When_Input_Is_Blank(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   \n\t\n", "# only a comment\n"} {
		got, err := codec.DecodeYAML([]byte(in))
		if err != nil {
			t.Fatalf("DecodeYAML(%q): %v", in, err)
		}

		if len(got) != 0 {
			t.Fatalf("DecodeYAML(%q)=%v, want empty", in, got)
		}
	}
}

func Test_DecodeYAML_Decodes_Nested_Mapping(t *testing.T) {
	t.Parallel()

	got, err := codec.DecodeYAML([]byte("paths:\n  blueprint: ../docs/blueprint.md\nlist: [1, 2]\n"))
	if err != nil {
		t.Fatalf("DecodeYAML: %v", err)
	}

	want := map[string]any{
		"paths": map[string]any{"blueprint": "../docs/blueprint.md"},
		"list":  []any{1, 2},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func Test_DecodeYAML_Returns_ErrDecode_When_Top_Level_Is_Not_A_Mapping(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"- a\n- b\n", "just a string\n", "key: [unclosed\n"} {
		_, err := codec.DecodeYAML([]byte(in))
		if !errors.Is(err, codec.ErrDecode) {
			t.Fatalf("DecodeYAML(%q) err=%v, want ErrDecode", in, err)
		}
	}
}

func Test_DecodeCSV_Maps_Rows_By_Header(t *testing.T) {
	t.Parallel()

	in := "id,author,description\n1,alice,\"first, with comma\"\n2,bob\n"

	got, err := codec.DecodeCSV([]byte(in))
	if err != nil {
		t.Fatalf("DecodeCSV: %v", err)
	}

	want := &codec.Table{
		Header: []string{"id", "author", "description"},
		Records: []map[string]string{
			{"id": "1", "author": "alice", "description": "first, with comma"},
			{"id": "2", "author": "bob", "description": ""},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	if !got.Column("author") || got.Column("status") {
		t.Fatal("Column reported wrong membership")
	}
}

func Test_DecodeCSV_Returns_Empty_Table_When_Input_Is_Blank(t *testing.T) {
	t.Parallel()

	got, err := codec.DecodeCSV([]byte("\n  \n"))
	if err != nil {
		t.Fatalf("DecodeCSV: %v", err)
	}

	if len(got.Records) != 0 || got.Records == nil {
		t.Fatalf("records=%v, want empty non-nil", got.Records)
	}
}

func Test_EncodeCSV_Round_Trips_Through_DecodeCSV(t *testing.T) {
	t.Parallel()

	header := []string{"id", "description"}
	records := []map[string]string{
		{"id": "1", "description": "line\nbreak"},
		{"id": "2", "description": "quote \" inside", "ignored": "x"},
	}

	data, err := codec.EncodeCSV(header, records)
	if err != nil {
		t.Fatalf("EncodeCSV: %v", err)
	}

	got, err := codec.DecodeCSV(data)
	if err != nil {
		t.Fatalf("DecodeCSV: %v", err)
	}

	want := []map[string]string{
		{"id": "1", "description": "line\nbreak"},
		{"id": "2", "description": "quote \" inside"},
	}

	if diff := cmp.Diff(want, got.Records); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func Test_Decode_Dispatches_On_Format(t *testing.T) {
	t.Parallel()

	raw, err := codec.Decode(codec.FormatRaw, []byte("plain"))
	if err != nil || raw != "plain" {
		t.Fatalf("raw=%v,%v", raw, err)
	}

	bp, err := codec.Decode(codec.FormatBlueprint, []byte("---\n---\nbody"))
	if err != nil {
		t.Fatalf("Decode blueprint: %v", err)
	}

	if _, ok := bp.(*codec.Blueprint); !ok {
		t.Fatalf("blueprint decoded as %T", bp)
	}

	_, err = codec.Decode(codec.Format("xml"), nil)
	if !errors.Is(err, codec.ErrDecode) {
		t.Fatalf("err=%v, want ErrDecode", err)
	}
}
