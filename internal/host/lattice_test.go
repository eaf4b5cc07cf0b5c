package host

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpolicy/quill/internal/types"
)

func testLattice() *Lattice {
	l := NewLattice(16)
	l.RegisterClass("Resource")
	l.RegisterClass("Document", "Resource")
	l.RegisterClass("Report", "Document")
	l.RegisterClass("User")
	l.RegisterInstance("rep1", "Report", map[string]*types.Term{
		"author": types.NewString("alice"),
		"pages":  types.NewInt(12),
	})
	return l
}

func TestLattice_IsaClass(t *testing.T) {
	l := testLattice()

	tests := []struct {
		name   string
		handle string
		class  string
		want   bool
	}{
		{"own class", "rep1", "Report", true},
		{"direct parent", "rep1", "Document", true},
		{"transitive parent", "rep1", "Resource", true},
		{"unrelated class", "rep1", "User", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.IsaClass(tt.handle, tt.class)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := l.IsaClass("ghost", "Report")
	assert.ErrorIs(t, err, types.ErrUnknownClass)

	_, err = l.IsaClass("rep1", "Phantom")
	assert.ErrorIs(t, err, types.ErrUnknownClass)
}

func TestLattice_IsSubclass(t *testing.T) {
	l := testLattice()

	got, err := l.IsSubclass("Report", "Resource")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = l.IsSubclass("Resource", "Report")
	require.NoError(t, err)
	assert.False(t, got)

	got, err = l.IsSubclass("Report", "Report")
	require.NoError(t, err)
	assert.True(t, got)

	_, err = l.IsSubclass("Report", "Phantom")
	assert.ErrorIs(t, err, types.ErrUnknownClass)
}

func TestLattice_CycleTerminates(t *testing.T) {
	l := NewLattice(0)
	l.RegisterClass("A", "B")
	l.RegisterClass("B", "A")

	got, err := l.IsSubclass("A", "B")
	require.NoError(t, err)
	assert.True(t, got)
	got, err = l.IsSubclass("B", "A")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestLattice_CacheInvalidatedOnReregistration(t *testing.T) {
	l := NewLattice(16)
	l.RegisterClass("User")
	l.RegisterClass("Admin", "User")

	got, err := l.IsSubclass("Admin", "User")
	require.NoError(t, err)
	assert.True(t, got)

	// Re-registering Admin without the parent must not serve the stale
	// cached answer.
	l.RegisterClass("Admin")
	got, err = l.IsSubclass("Admin", "User")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLattice_AttrLookup(t *testing.T) {
	l := testLattice()

	v, err := l.AttrLookup("rep1", "author")
	require.NoError(t, err)
	assert.Equal(t, types.KindString, v.Kind)
	assert.Equal(t, "alice", v.Str)

	_, err = l.AttrLookup("rep1", "missing")
	assert.Error(t, err)
	_, err = l.AttrLookup("ghost", "author")
	assert.ErrorIs(t, err, types.ErrUnknownClass)
}

func TestLattice_IsaClassField(t *testing.T) {
	l := testLattice()

	got, err := l.IsaClassField("rep1", "author", "String")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = l.IsaClassField("rep1", "pages", "Integer")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = l.IsaClassField("rep1", "pages", "String")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestParseLattice(t *testing.T) {
	src := []byte(`
classes:
  - name: User
  - name: SuperUser
    parents: [User]
instances:
  - handle: sue
    class: SuperUser
    fields:
      role: admin
      quota: 10
      active: true
      tags: [a, b]
`)
	l, err := ParseLattice(src, 16)
	require.NoError(t, err)

	got, err := l.IsSubclass("SuperUser", "User")
	require.NoError(t, err)
	assert.True(t, got)

	role, err := l.AttrLookup("sue", "role")
	require.NoError(t, err)
	assert.Equal(t, "admin", role.Str)

	quota, err := l.AttrLookup("sue", "quota")
	require.NoError(t, err)
	assert.Equal(t, int64(10), quota.Int)

	tags, err := l.AttrLookup("sue", "tags")
	require.NoError(t, err)
	assert.Equal(t, types.KindList, tags.Kind)
	assert.Len(t, tags.Items, 2)

	term, ok := l.InstanceTerm("sue")
	require.True(t, ok)
	assert.Equal(t, types.KindInstance, term.Kind)
	assert.Equal(t, "SuperUser", term.Name)
}

func TestParseLattice_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"undeclared parent", "classes:\n  - name: A\n    parents: [Missing]\n"},
		{"undeclared instance class", "instances:\n  - handle: h\n    class: Nope\n"},
		{"missing handle", "classes:\n  - name: A\ninstances:\n  - class: A\n"},
		{"invalid yaml", "classes: [User"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLattice([]byte(tt.src), 0)
			if err == nil {
				t.Errorf("ParseLattice() error = nil, want error")
			}
		})
	}
}

func TestLattice_ErrUnknownClassSentinel(t *testing.T) {
	l := NewLattice(0)
	_, err := l.IsSubclass("A", "B")
	if !errors.Is(err, types.ErrUnknownClass) {
		t.Errorf("IsSubclass() error = %v, want ErrUnknownClass", err)
	}
}
