package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifabric/jsonapi/apierror"
)

func parseAtomicBody(t *testing.T, body string) ([]AtomicOperation, error) {
	t.Helper()
	r := httptest.NewRequest("POST", "/operations", strings.NewReader(body))
	w := httptest.NewRecorder()
	return NewParser().ParseAtomic(w, r)
}

func TestParseAtomic(t *testing.T) {
	ops, err := parseAtomicBody(t, `{"atomic:operations": [
		{"op": "add", "data": {"type": "user", "attributes": {"name": "Ann"}}},
		{"op": "update", "ref": {"type": "user", "id": 5}, "data": {"type": "user", "attributes": {"name": "Bob"}}},
		{"op": "remove", "ref": {"type": "post", "id": "9"}}
	]}`)
	require.NoError(t, err)
	require.Len(t, ops, 3)

	assert.Equal(t, AtomicAdd, ops[0].Op)
	assert.Equal(t, "user", ops[0].Data.Type)
	assert.Equal(t, "Ann", ops[0].Data.Attributes["name"])

	// update takes its target id from the ref when data.id is absent.
	assert.Equal(t, AtomicUpdate, ops[1].Op)
	assert.Equal(t, "5", ops[1].Data.ID)

	assert.Equal(t, AtomicRemove, ops[2].Op)
	assert.Equal(t, &AtomicRef{Type: "post", ID: "9"}, ops[2].Ref)
}

func TestParseAtomicEmptyList(t *testing.T) {
	_, err := parseAtomicBody(t, `{"atomic:operations": []}`)
	require.Error(t, err)

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestParseAtomicErrorNamesFailingIndex(t *testing.T) {
	_, err := parseAtomicBody(t, `{"atomic:operations": [
		{"op": "remove", "ref": {"type": "post", "id": "9"}},
		{"op": "remove"}
	]}`)
	require.Error(t, err)

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	require.NotNil(t, apiErr.Source)
	assert.Equal(t, "/atomic:operations/1", apiErr.Source.Pointer)
}

func TestParseAtomicRemoveWithoutData(t *testing.T) {
	ops, err := parseAtomicBody(t, `{"atomic:operations": [
		{"op": "remove", "ref": {"type": "user", "id": "1"}}
	]}`)
	require.NoError(t, err)
	assert.Nil(t, ops[0].Data)
}
