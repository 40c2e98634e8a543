package request

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apifabric/jsonapi/apierror"
	"github.com/apifabric/jsonapi/crud"
)

func parseBody(t *testing.T, body, resourceType string) (*Document, error) {
	t.Helper()
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	w := httptest.NewRecorder()
	return NewParser().ParseDocument(w, r, resourceType)
}

func TestParseDocument(t *testing.T) {
	doc, err := parseBody(t, `{
		"data": {
			"type": "post",
			"attributes": {"title": "Hello", "views": 3},
			"relationships": {
				"author": {"data": {"id": "7", "type": "user"}},
				"tags": {"data": [{"id": "1", "type": "tag"}, {"id": "2", "type": "tag"}]},
				"series": {"data": null}
			}
		}
	}`, "post")
	require.NoError(t, err)

	assert.Equal(t, "post", doc.Type)
	assert.Equal(t, "", doc.ID)
	assert.Equal(t, "Hello", doc.Attributes["title"])

	assert.Equal(t, crud.Linkage{IDs: []string{"7"}}, doc.Linkages["author"])
	assert.Equal(t, crud.Linkage{Many: true, IDs: []string{"1", "2"}}, doc.Linkages["tags"])
	assert.Equal(t, crud.Linkage{Null: true}, doc.Linkages["series"])
}

func TestParseDocumentNumericID(t *testing.T) {
	doc, err := parseBody(t, `{"data": {"id": 5, "type": "post", "attributes": {}}}`, "post")
	require.NoError(t, err)
	assert.Equal(t, "5", doc.ID)
}

func TestParseDocumentOmittedType(t *testing.T) {
	doc, err := parseBody(t, `{"data": {"attributes": {"name": "Ann"}}}`, "user")
	require.NoError(t, err)
	assert.Equal(t, "user", doc.Type)
	assert.Equal(t, "Ann", doc.Attributes["name"])
}

func TestParseDocumentTypeMismatch(t *testing.T) {
	_, err := parseBody(t, `{"data": {"type": "user", "attributes": {}}}`, "post")
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeBadRequest))
}

func TestParseDocumentEmptyBody(t *testing.T) {
	_, err := parseBody(t, "", "post")
	require.Error(t, err)

	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Detail, "empty")
}

func TestParseDocumentMissingData(t *testing.T) {
	_, err := parseBody(t, `{"meta": {}}`, "post")
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeBadRequest))
}

func TestParseDocumentLinkageWithoutID(t *testing.T) {
	_, err := parseBody(t, `{
		"data": {
			"type": "post",
			"relationships": {"author": {"data": {"type": "user"}}}
		}
	}`, "post")
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeBadRequest))
}

func TestParseDocumentBodyTooLarge(t *testing.T) {
	big := `{"data": {"type": "post", "attributes": {"title": "` + strings.Repeat("x", 256) + `"}}}`
	r := httptest.NewRequest("POST", "/", strings.NewReader(big))
	w := httptest.NewRecorder()

	_, err := NewParserWithMaxSize(64).ParseDocument(w, r, "post")
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.CodeBadRequest))
}
