package orgchart

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T) *Node {
	t.Helper()
	batch := []Employee{
		emp("1", "Alice Smith", "CEO", ""),
		emp("2", "Bob Jones", "VP Engineering", "1"),
		emp("3", "Carol White", "VP Sales", "1"),
		emp("4", "Dan Brown", "Engineer", "2"),
		emp("5", "Eve Black", "Engineer", "2"),
		emp("6", "Frank Green", "Account Executive", "3"),
	}
	batch[5].Department = "Sales"
	root, err := Builder{}.Build(batch)
	require.NoError(t, err)
	return root
}

func TestNode_All(t *testing.T) {
	root := sampleTree(t)

	t.Run("pre-order", func(t *testing.T) {
		assert.Equal(t, []string{"1", "2", "4", "5", "3", "6"}, preorder(root))
	})

	t.Run("restartable", func(t *testing.T) {
		assert.Equal(t, preorder(root), preorder(root))
	})

	t.Run("early stop", func(t *testing.T) {
		var got []string
		for n := range root.All() {
			got = append(got, n.ID)
			if n.ID == "4" {
				break
			}
		}
		assert.Equal(t, []string{"1", "2", "4"}, got)
	})

	t.Run("nil root", func(t *testing.T) {
		var n *Node
		assert.Equal(t, 0, Count(n))
	})
}

func TestFind(t *testing.T) {
	root := sampleTree(t)

	n, ok := Find(root, "5")
	require.True(t, ok)
	assert.Equal(t, "Eve Black", n.Name)

	n, ok = Find(root, "2")
	require.True(t, ok)
	assert.Equal(t, []string{"4", "5"}, ids(n.Children))

	_, ok = Find(root, "99")
	assert.False(t, ok)
}

func TestSearch(t *testing.T) {
	root := sampleTree(t)

	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"short query", "a", 10, []string{}},
		{"empty query", "", 10, []string{}},
		{"by name", "bob", 10, []string{"2"}},
		{"by title case-insensitive", "ENGINEER", 10, []string{"2", "4", "5"}},
		{"by department", "sales", 10, []string{"3", "6"}},
		{"single letter", "e", 10, []string{}},
		{"limit", "engineer", 2, []string{"2", "4"}},
		{"no match", "zz", 10, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Search(root, tt.query, tt.limit)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	t.Run("at most limit", func(t *testing.T) {
		var batch []Employee
		batch = append(batch, emp("root", "Root", "CEO", ""))
		for i := 0; i < 25; i++ {
			batch = append(batch, emp(string(rune('a'+i)), "Engineer", "Engineer", "root"))
		}
		big, err := Builder{}.Build(batch)
		require.NoError(t, err)
		assert.Len(t, Search(big, "engineer", DefaultSearchLimit), DefaultSearchLimit)
	})

	t.Run("nil root", func(t *testing.T) {
		assert.Empty(t, Search(nil, "anything", 10))
	})
}

func TestWithRecency(t *testing.T) {
	root := sampleTree(t)
	hired := refNow.Add(-45 * 24 * time.Hour)
	n, _ := Find(root, "4")
	n.HireDate = &hired

	fresh := WithRecency(root, RecencyPolicy{Months: 3}, refNow)
	got, ok := Find(fresh, "4")
	require.True(t, ok)
	assert.True(t, got.IsNew)
	assert.False(t, n.IsNew, "input tree must not change")
	assert.Equal(t, preorder(root), preorder(fresh))

	later := WithRecency(root, RecencyPolicy{Months: 3}, refNow.AddDate(1, 0, 0))
	got, _ = Find(later, "4")
	assert.False(t, got.IsNew)

	assert.Nil(t, WithRecency(nil, RecencyPolicy{}, refNow))
}

func TestNode_MarshalJSON(t *testing.T) {
	root := sampleTree(t)
	data, err := json.Marshal(root)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "1", decoded["id"])
	assert.Equal(t, "Alice Smith", decoded["name"])
	assert.Nil(t, decoded["managerId"])
	assert.Contains(t, decoded, "isNewEmployee")

	leaf, _ := Find(root, "6")
	data, err = json.Marshal(leaf)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"children":[]`)
	assert.Contains(t, string(data), `"managerId":"3"`)

	var back Node
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Employee.Equal(leaf.Employee))
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder()
	assert.Equal(t, "root", p.ID)
	assert.Equal(t, "No Data", p.Name)
	assert.Equal(t, "Please check configuration", p.Title)
}
