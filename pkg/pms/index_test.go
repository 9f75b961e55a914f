package pms_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/pms/pkg/pms"
)

func Test_ParseMemoryIndex_Decodes_Paths_Schemas_And_Scopes(t *testing.T) {
	t.Parallel()

	idx, err := pms.ParseMemoryIndex([]byte(`paths:
  blueprint: ../docs/blueprint.md
schemas:
  backlog_v1:
    required_fields: [historias]
    status_values: [pending, done]
    task_field: tasks
scopes:
  backlog_f*:
    schema: backlog_v1
config:
  rollback_dual: true
`))
	if err != nil {
		t.Fatalf("ParseMemoryIndex: %v", err)
	}

	want := &pms.MemoryIndex{
		Paths: map[string]string{"blueprint": "../docs/blueprint.md"},
		Schemas: map[string]pms.Schema{
			"backlog_v1": {
				RequiredFields: []string{"historias"},
				StatusValues:   []string{"pending", "done"},
				TaskField:      "tasks",
			},
		},
		Scopes: map[string]pms.ScopeConfig{"backlog_f*": {Schema: "backlog_v1"}},
	}
	if diff := cmp.Diff(want, idx); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}

	if !idx.Schemas["backlog_v1"].IsTaskList() {
		t.Fatal("schema with status values must be a task list")
	}
}

func Test_ParseMemoryIndex_Returns_Empty_Index_When_Blank(t *testing.T) {
	t.Parallel()

	idx, err := pms.ParseMemoryIndex([]byte("  \n"))
	if err != nil {
		t.Fatalf("ParseMemoryIndex: %v", err)
	}

	if _, ok := idx.Path("blueprint"); ok {
		t.Fatal("blank index has paths")
	}
}

func Test_ParseMemoryIndex_Returns_Decode_Error_When_Not_A_Mapping(t *testing.T) {
	t.Parallel()

	_, err := pms.ParseMemoryIndex([]byte("- a\n"))
	assertKind(t, err, pms.KindDecode)
}

func Test_MemoryIndex_SchemaFor_Prefers_Exact_Scope_Over_Glob(t *testing.T) {
	t.Parallel()

	idx := &pms.MemoryIndex{Scopes: map[string]pms.ScopeConfig{
		"backlog_f*": {Schema: "backlog_v1"},
		"backlog_f1": {Schema: "backlog_legacy"},
		"blue*":      {Schema: ""},
	}}

	tests := []struct {
		scope  string
		want   string
		wantOK bool
	}{
		{scope: "backlog_f1", want: "backlog_legacy", wantOK: true},
		{scope: "backlog_f7", want: "backlog_v1", wantOK: true},
		{scope: "blueprint", wantOK: false},
		{scope: "project_status", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := idx.SchemaFor(tt.scope)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("SchemaFor(%q)=(%q,%v), want=(%q,%v)", tt.scope, got, ok, tt.want, tt.wantOK)
		}
	}

	var nilIndex *pms.MemoryIndex
	if _, ok := nilIndex.SchemaFor("x"); ok {
		t.Fatal("nil index resolved a schema")
	}
}
