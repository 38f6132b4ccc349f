package router

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxhq/sandboxd/pkg/spec"
)

func op(id, method, path string, vars ...string) *spec.Operation {
	return &spec.Operation{ID: id, Method: method, Path: path, VarNames: vars}
}

func TestExactBeatsVariable(t *testing.T) {
	r, err := New([]*spec.Operation{
		op("getPet", "GET", "/pets/{id}", "id"),
		op("getMine", "GET", "/pets/mine"),
	})
	require.NoError(t, err)

	matched, vars, ok := r.Match("GET", "/pets/mine")
	require.True(t, ok)
	assert.Equal(t, "getMine", matched.ID)
	assert.Empty(t, vars)

	matched, vars, ok = r.Match("GET", "/pets/42")
	require.True(t, ok)
	assert.Equal(t, "getPet", matched.ID)
	assert.Equal(t, map[string]string{"id": "42"}, vars)
}

func TestLongerLiteralBreaksTies(t *testing.T) {
	r, err := New([]*spec.Operation{
		op("short", "GET", "/a/{x}", "x"),
		op("long", "GET", "/a/special/{x}", "x"),
	})
	require.NoError(t, err)

	matched, _, ok := r.Match("GET", "/a/special/1")
	require.True(t, ok)
	assert.Equal(t, "long", matched.ID)
}

func TestMethodMismatch(t *testing.T) {
	r, err := New([]*spec.Operation{op("createPet", "POST", "/pets")})
	require.NoError(t, err)

	_, _, ok := r.Match("GET", "/pets")
	assert.False(t, ok)

	_, _, ok = r.Match("post", "/pets")
	assert.True(t, ok, "method comparison is case-insensitive")
}

func TestNoPartialMatches(t *testing.T) {
	r, err := New([]*spec.Operation{op("getPet", "GET", "/pets/{id}", "id")})
	require.NoError(t, err)

	for _, path := range []string{"/pets", "/pets/1/toys", "/pets/", "/xpets/1"} {
		_, _, ok := r.Match("GET", path)
		assert.False(t, ok, "path %q must not match /pets/{id}", path)
	}
}

func TestMultipleVariables(t *testing.T) {
	r, err := New([]*spec.Operation{
		op("getToy", "GET", "/owners/{owner}/pets/{pet}", "owner", "pet"),
	})
	require.NoError(t, err)

	_, vars, ok := r.Match("GET", "/owners/ada/pets/rex")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"owner": "ada", "pet": "rex"}, vars)
}

// Substituting variable values into a template and matching the result
// must round-trip the values byte for byte.
func TestSubstitutionRoundTrip(t *testing.T) {
	o := op("getToy", "GET", "/owners/{owner}/pets/{pet}", "owner", "pet")
	r, err := New([]*spec.Operation{o})
	require.NoError(t, err)

	cases := []map[string]string{
		{"owner": "ada", "pet": "rex"},
		{"owner": "a b", "pet": "x%20y"},
		{"owner": "0", "pet": "{odd}"},
	}
	for i, want := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			path := o.Path
			for name, val := range want {
				path = strings.ReplaceAll(path, "{"+name+"}", val)
			}
			_, got, ok := r.Match("GET", path)
			require.True(t, ok, "built path %q", path)
			assert.Equal(t, want, got)
		})
	}
}

func TestUnbalancedTemplate(t *testing.T) {
	_, err := New([]*spec.Operation{op("bad", "GET", "/pets/{id")})
	require.Error(t, err)
}
