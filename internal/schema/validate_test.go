package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateString(t *testing.T) {
	spec := &FieldSpec{Key: "name", Kind: KindString}

	v, err := ValidateField(spec, "  Reef Model  ")
	require.NoError(t, err)
	assert.Equal(t, "Reef Model", v)

	_, err = ValidateField(spec, "   ")
	assert.Error(t, err)
}

func TestValidateBool(t *testing.T) {
	spec := &FieldSpec{Key: "flag", Kind: KindBool}

	for raw, want := range map[string]bool{"true": true, "Yes": true, "1": true, "false": false, "no": false} {
		v, err := ValidateField(spec, raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, v, raw)
	}

	_, err := ValidateField(spec, "maybe")
	assert.Error(t, err)
}

func TestValidateURL(t *testing.T) {
	spec := &FieldSpec{Key: "source_url", Kind: KindURL}

	v, err := ValidateField(spec, "https://example.org/model")
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/model", v)

	for _, bad := range []string{"example.org", "ftp://example.org", "not a url"} {
		_, err := ValidateField(spec, bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateDateCoercion(t *testing.T) {
	spec := &FieldSpec{Key: "created_date", Kind: KindDate}

	for _, raw := range []string{"2024-01-31", "2024/01/31", "31/01/2024", "January 31, 2024"} {
		v, err := ValidateField(spec, raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "2024-01-31", v, raw)
	}

	_, err := ValidateField(spec, "31st of January")
	assert.Error(t, err)
}

func TestValidateDatetime(t *testing.T) {
	spec := &FieldSpec{Key: "start_time", Kind: KindDatetime}

	v, err := ValidateField(spec, "2024-01-31T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31T09:00:00Z", v)

	_, err = ValidateField(spec, "2024-01-31")
	assert.Error(t, err)
}

func TestValidateJSONObjectStringifiesValues(t *testing.T) {
	spec := &FieldSpec{Key: "user_metadata", Kind: KindJSONObject}

	v, err := ValidateField(spec, `{"project": "reef", "year": 2024, "pilot": true}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"project": "reef", "year": "2024", "pilot": "true"}, v)

	_, err = ValidateField(spec, `["not", "an", "object"]`)
	assert.Error(t, err)
}

func TestValidateStringList(t *testing.T) {
	spec := &FieldSpec{Key: "keywords", Kind: KindStringList}

	v, err := ValidateField(spec, "coral, reef , , monitoring")
	require.NoError(t, err)
	assert.Equal(t, []string{"coral", "reef", "monitoring"}, v)
}

func TestValidateReferenceHandle(t *testing.T) {
	spec := &FieldSpec{Key: "model_id", Kind: KindReference}

	v, err := ValidateField(spec, "12345/abc-def")
	require.NoError(t, err)
	assert.Equal(t, "12345/abc-def", v)

	_, err = ValidateField(spec, "not a handle")
	assert.Error(t, err)
}

func TestNormalizeORCID(t *testing.T) {
	for _, raw := range []string{"0000-0002-1825-0097", "https://orcid.org/0000-0002-1825-0097", "orcid.org/0000-0002-1825-0097"} {
		v, err := NormalizeORCID(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "https://orcid.org/0000-0002-1825-0097", v, raw)
	}

	_, err := NormalizeORCID("1825-0097")
	assert.Error(t, err)
}

func TestNormalizeROR(t *testing.T) {
	v, err := NormalizeROR("03yrm5c26")
	require.NoError(t, err)
	assert.Equal(t, "https://ror.org/03yrm5c26", v)

	v, err = NormalizeROR("https://ror.org/03yrm5c26")
	require.NoError(t, err)
	assert.Equal(t, "https://ror.org/03yrm5c26", v)

	_, err = NormalizeROR("XYZ")
	assert.Error(t, err)
}

func TestNormalizeEmail(t *testing.T) {
	v, err := NormalizeEmail("robot@example.org")
	require.NoError(t, err)
	assert.Equal(t, "robot@example.org", v)

	_, err = NormalizeEmail("robot-at-example")
	assert.Error(t, err)
}

func TestNormalizeEWKTDefaultsSRID(t *testing.T) {
	v, err := NormalizeEWKT("POINT(146.8 -19.3)")
	require.NoError(t, err)
	assert.Equal(t, "SRID=4326;POINT(146.8 -19.3)", v)

	v, err = NormalizeEWKT("SRID=7844;POINT(146.8 -19.3)")
	require.NoError(t, err)
	assert.Equal(t, "SRID=7844;POINT(146.8 -19.3)", v)
}

func TestBuiltinRegistryCoversAllOperations(t *testing.T) {
	r := NewRegistry()

	assert.ElementsMatch(t, []string{
		"create_person", "create_organisation", "create_model",
		"create_dataset_template", "create_model_run_workflow_template",
		"create_dataset", "create_model_run",
	}, r.Operations())

	_, err := r.Lookup("create_spaceship")
	assert.Error(t, err)
}

func TestPersonSchemaShape(t *testing.T) {
	r := NewRegistry()
	sch, err := r.Lookup("create_person")
	require.NoError(t, err)

	var required []string
	for _, f := range sch.RequiredFields() {
		required = append(required, f.Key)
	}
	assert.Equal(t, []string{"first_name", "last_name", "email"}, required)

	display, ok := sch.Field("display_name")
	require.True(t, ok)
	def, has := display.DerivedDefault(map[string]any{"first_name": "MCP", "last_name": "Robot"})
	require.True(t, has)
	assert.Equal(t, "MCP Robot", def)

	ethics, ok := sch.Field("ethics_approved")
	require.True(t, ok)
	def, has = ethics.DerivedDefault(nil)
	require.True(t, has)
	assert.Equal(t, true, def)
}

func TestModelRunCrossCheck(t *testing.T) {
	r := NewRegistry()
	sch, err := r.Lookup("create_model_run")
	require.NoError(t, err)
	require.Len(t, sch.CrossChecks, 1)

	check := sch.CrossChecks[0]
	assert.NoError(t, check(map[string]any{
		"start_time": "2024-01-31T09:00:00Z",
		"end_time":   "2024-01-31T10:00:00Z",
	}))
	assert.Error(t, check(map[string]any{
		"start_time": "2024-01-31T10:00:00Z",
		"end_time":   "2024-01-31T09:00:00Z",
	}))
}
