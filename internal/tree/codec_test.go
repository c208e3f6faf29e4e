package tree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSerialize_Format(t *testing.T) {
	tr := New()
	f, err := tr.Create(RootID, Folder("Budget"))
	require.NoError(t, err)
	s, err := tr.Create(f, Sheet("Q1"))
	require.NoError(t, err)

	data, err := tr.Serialize()
	require.NoError(t, err)

	want := fmt.Sprintf(`[{"id":%q,"text":"Budget","type":"folder","data":{"isWorksheet":false,"nodeType":"folder"},`+
		`"children":[{"id":%q,"text":"Q1","type":"sheet","data":{"isWorksheet":true,"sheetName":"Q1","nodeType":"sheet"},"children":[]}]}]`, f, s)
	assert.JSONEq(t, want, string(data))
}

func TestSerialize_EmptyTree(t *testing.T) {
	data, err := New().Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestDeserialize_RoundTrip(t *testing.T) {
	tr, _ := sample(t)

	data, err := tr.Serialize()
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)

	assert.True(t, tr.Equal(back))
	assert.Equal(t, tr.Outline(), back.Outline())
}

func TestDeserialize_Empty(t *testing.T) {
	for _, in := range []string{"", "  ", "null", "[]"} {
		tr, err := Deserialize([]byte(in))
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, 0, tr.Len())
	}
}

func TestDeserialize_Malformed(t *testing.T) {
	_, err := Deserialize([]byte(`{"not":"an array"`))
	assert.Error(t, err)
}

func TestDeserialize_LenientInput(t *testing.T) {
	// Shape written by tree widgets: extra fields, missing ids,
	// a duplicate id and a duplicate sheet reference.
	in := `[
		{"id":"a","text":"Folder","type":"folder","icon":"jstree-folder","state":{"opened":true},
		 "data":{"isWorksheet":false,"nodeType":"folder"},
		 "children":[
			{"text":"Sheet1","type":"sheet","data":{"isWorksheet":true,"sheetName":"Sheet1"}},
			{"id":"a","text":"Sheet2","data":{"isWorksheet":true}}
		 ]},
		{"id":"dup","text":"Sheet1","data":{"isWorksheet":true,"sheetName":"Sheet1"},
		 "children":[{"id":"inner","text":"Kept","data":{"isWorksheet":false}}]}
	]`

	tr, err := Deserialize([]byte(in))
	require.NoError(t, err)

	assert.Equal(t, "Folder/\n  Sheet1\n  Sheet2\nKept/\n", tr.Outline())

	folder, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, KindFolder, folder.Kind)

	s2, ok := tr.FindSheet("Sheet2")
	require.True(t, ok, "sheet name falls back to text")
	assert.NotEqual(t, "a", s2.ID, "repeated id is replaced")

	s1, ok := tr.FindSheet("Sheet1")
	require.True(t, ok)
	assert.NotEmpty(t, s1.ID)

	_, ok = tr.Get("dup")
	assert.False(t, ok, "duplicate sheet reference is dropped")
}

func TestExportNode_DeepCopy(t *testing.T) {
	tr, ids := sample(t)

	e, err := tr.ExportNode(ids["Budget"])
	require.NoError(t, err)
	require.Len(t, e.Children, 2)
	assert.Equal(t, "Archive", e.Children[1].Text)
	assert.Equal(t, "Q0", e.Children[1].Children[0].Data.SheetName)

	// Mutating the tree afterwards does not affect the copy.
	require.NoError(t, tr.Delete(ids["Archive"]))
	assert.Len(t, e.Children, 2)

	_, err = tr.ExportNode("missing")
	assert.Error(t, err)
}

func TestImport_UnderParent(t *testing.T) {
	tr, ids := sample(t)

	err := tr.Import(ids["Archive"], []Entry{{Text: "Nested", Data: EntryData{}}})
	require.NoError(t, err)

	assert.Equal(t, "Budget/\n  Q1\n  Archive/\n    Q0\n    Nested/\nSummary\n", tr.Outline())

	assert.Error(t, tr.Import("missing", nil))
}

// --- Properties ---

// genTree builds a random valid tree by interleaving folder and sheet
// creation under randomly chosen folders.
func genTree(t *rapid.T) *Tree {
	tr := New()
	parents := []string{RootID}

	ops := rapid.IntRange(0, 30).Draw(t, "ops")
	for i := range ops {
		parent := rapid.SampledFrom(parents).Draw(t, "parent")
		if rapid.Bool().Draw(t, "folder") {
			label := rapid.StringMatching(`[A-Za-z ]{0,8}`).Draw(t, "label")
			id, err := tr.Create(parent, Folder(label))
			if err != nil {
				t.Fatalf("create folder: %v", err)
			}

			parents = append(parents, id)

			continue
		}

		if _, err := tr.Create(parent, Sheet(fmt.Sprintf("Sheet%d", i))); err != nil {
			t.Fatalf("create sheet: %v", err)
		}
	}

	return tr
}

func TestSerialize_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tr := genTree(t)

		data, err := tr.Serialize()
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}

		back, err := Deserialize(data)
		if err != nil {
			t.Fatalf("deserialize: %v", err)
		}

		if !tr.Equal(back) {
			t.Fatalf("round trip changed tree:\n%s\nvs\n%s", tr.Outline(), back.Outline())
		}

		again, err := back.Serialize()
		if err != nil {
			t.Fatalf("re-serialize: %v", err)
		}

		if string(again) != string(data) {
			t.Fatalf("serialization not stable")
		}
	})
}
