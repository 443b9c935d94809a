package schema

import (
	"time"

	"registry-mcp/pkg/models"
)

// builtinSchemas returns the seven mutating operations the registry
// supports. Field order here is prompt order: required first within their
// group, then optional.
func builtinSchemas() []*OperationSchema {
	return []*OperationSchema{
		personSchema(),
		organisationSchema(),
		modelSchema(),
		datasetTemplateSchema(),
		modelRunWorkflowTemplateSchema(),
		datasetSchema(),
		modelRunSchema(),
	}
}

func userMetadataField() FieldSpec {
	return FieldSpec{
		Key:    "user_metadata",
		Prompt: `Any extra metadata as a JSON object, e.g. {"project": "reef-2024"}?`,
		Kind:   KindJSONObject,
	}
}

func personSchema() *OperationSchema {
	return &OperationSchema{
		Operation:  "create_person",
		Subtype:    models.SubtypePerson,
		CreatePath: "registry/agent/person/create",
		Fields: []FieldSpec{
			{Key: "first_name", Prompt: "What is the person's first name?", Required: true, Kind: KindString},
			{Key: "last_name", Prompt: "What is the person's last name?", Required: true, Kind: KindString},
			{Key: "email", Prompt: "What is the person's email address?", Required: true, Kind: KindString, Normalize: NormalizeEmail},
			{Key: "display_name", Prompt: "Display name? (defaults to first and last name)", Kind: KindString, DefaultFrom: []string{"first_name", "last_name"}},
			{Key: "orcid", Prompt: "ORCID iD, if they have one?", Kind: KindString, Normalize: NormalizeORCID},
			{Key: "ethics_approved", Prompt: "Has consent been obtained to register this person? (defaults to yes)", Kind: KindBool, Default: true},
			userMetadataField(),
		},
	}
}

func organisationSchema() *OperationSchema {
	return &OperationSchema{
		Operation:  "create_organisation",
		Subtype:    models.SubtypeOrganisation,
		CreatePath: "registry/agent/organisation/create",
		Fields: []FieldSpec{
			{Key: "name", Prompt: "What is the organisation's name?", Required: true, Kind: KindString},
			{Key: "display_name", Prompt: "Display name? (defaults to the name)", Kind: KindString, DefaultFrom: []string{"name"}},
			{Key: "ror", Prompt: "ROR identifier, if it has one?", Kind: KindString, Normalize: NormalizeROR},
			userMetadataField(),
		},
	}
}

func modelSchema() *OperationSchema {
	return &OperationSchema{
		Operation:  "create_model",
		Subtype:    models.SubtypeModel,
		CreatePath: "registry/entity/model/create",
		Fields: []FieldSpec{
			{Key: "name", Prompt: "What is the model's name?", Required: true, Kind: KindString},
			{Key: "description", Prompt: "Describe the model.", Required: true, Kind: KindString},
			{Key: "documentation_url", Prompt: "Where is the model documented? (URL)", Required: true, Kind: KindURL},
			{Key: "source_url", Prompt: "Where does the model's source live? (URL)", Required: true, Kind: KindURL},
			{Key: "display_name", Prompt: "Display name? (defaults to the name)", Kind: KindString, DefaultFrom: []string{"name"}},
			userMetadataField(),
		},
	}
}

func datasetTemplateSchema() *OperationSchema {
	return &OperationSchema{
		Operation:  "create_dataset_template",
		Subtype:    models.SubtypeDatasetTemplate,
		CreatePath: "registry/entity/dataset_template/create",
		Fields: []FieldSpec{
			{Key: "display_name", Prompt: "What should the template be called?", Required: true, Kind: KindString},
			{Key: "description", Prompt: "Describe the template.", Kind: KindString},
			{Key: "defined_resources", Prompt: "Defined resources as a JSON array, if any?", Kind: KindJSON},
			{Key: "deferred_resources", Prompt: "Deferred resources as a JSON array, if any?", Kind: KindJSON},
			userMetadataField(),
		},
	}
}

func modelRunWorkflowTemplateSchema() *OperationSchema {
	return &OperationSchema{
		Operation:  "create_model_run_workflow_template",
		Subtype:    models.SubtypeModelRunWorkflowTemplate,
		CreatePath: "registry/entity/model_run_workflow/create",
		Fields: []FieldSpec{
			{Key: "display_name", Prompt: "What should the workflow template be called?", Required: true, Kind: KindString},
			{Key: "model_id", Prompt: "Which model does this template run? (handle, or search)", Required: true, Kind: KindReference, RefSubtype: models.SubtypeModel},
			{Key: "input_template_ids", Prompt: "Input dataset templates as a JSON array, if any?", Kind: KindJSON},
			{Key: "output_template_ids", Prompt: "Output dataset templates as a JSON array, if any?", Kind: KindJSON},
			{Key: "required_annotations", Prompt: "Required annotation keys, comma separated?", Kind: KindStringList},
			{Key: "optional_annotations", Prompt: "Optional annotation keys, comma separated?", Kind: KindStringList},
			userMetadataField(),
		},
	}
}

func datasetSchema() *OperationSchema {
	approvals := []string{
		"ethics_registration_relevant", "ethics_registration_obtained",
		"ethics_access_relevant", "ethics_access_obtained",
		"indigenous_knowledge_relevant", "indigenous_knowledge_obtained",
		"export_controls_relevant", "export_controls_obtained",
	}

	fields := []FieldSpec{
		{Key: "name", Prompt: "What is the dataset's name?", Required: true, Kind: KindString},
		{Key: "description", Prompt: "Describe the dataset.", Required: true, Kind: KindString},
		{Key: "publisher_id", Prompt: "Which organisation publishes it? (handle, or search)", Required: true, Kind: KindReference, RefSubtype: models.SubtypeOrganisation},
		{Key: "organisation_id", Prompt: "Which organisation produced it? (handle, or search)", Required: true, Kind: KindReference, RefSubtype: models.SubtypeOrganisation},
		{Key: "created_date", Prompt: "When was the data created? (YYYY-MM-DD)", Required: true, Kind: KindDate},
		{Key: "published_date", Prompt: "When was it published? (YYYY-MM-DD)", Required: true, Kind: KindDate},
		{Key: "license", Prompt: "Which license applies? (URL)", Required: true, Kind: KindURL},
		{Key: "access_reposited", Prompt: "Is the data stored in the repository? (defaults to yes)", Kind: KindBool, Default: true},
		{Key: "access_uri", Prompt: "External access URI, if stored elsewhere?", Kind: KindURL},
		{Key: "access_description", Prompt: "How is external access arranged?", Kind: KindString},
	}

	for _, key := range approvals {
		fields = append(fields, FieldSpec{
			Key:     key,
			Prompt:  "Approval flag " + key + "? (defaults to no)",
			Kind:    KindBool,
			Default: false,
		})
	}

	fields = append(fields,
		FieldSpec{Key: "purpose", Prompt: "What is the dataset's purpose?", Kind: KindString},
		FieldSpec{Key: "rights_holder", Prompt: "Who holds the rights?", Kind: KindString},
		FieldSpec{Key: "usage_limitations", Prompt: "Any usage limitations?", Kind: KindString},
		FieldSpec{Key: "preferred_citation", Prompt: "Preferred citation, if any?", Kind: KindString},
		FieldSpec{Key: "spatial_coverage", Prompt: "Spatial coverage as EWKT, if any?", Kind: KindString, Normalize: NormalizeEWKT},
		FieldSpec{Key: "spatial_extent", Prompt: "Spatial extent as EWKT, if any?", Kind: KindString, Normalize: NormalizeEWKT},
		FieldSpec{Key: "spatial_resolution", Prompt: "Spatial resolution in decimal degrees, if known?", Kind: KindString},
		FieldSpec{Key: "temporal_begin_date", Prompt: "Temporal coverage start (YYYY-MM-DD), if any?", Kind: KindDate},
		FieldSpec{Key: "temporal_end_date", Prompt: "Temporal coverage end (YYYY-MM-DD), if any?", Kind: KindDate},
		FieldSpec{Key: "temporal_resolution", Prompt: "Temporal resolution (ISO 8601 duration), if known?", Kind: KindString},
		FieldSpec{Key: "formats", Prompt: "File formats, comma separated?", Kind: KindStringList},
		FieldSpec{Key: "keywords", Prompt: "Keywords, comma separated?", Kind: KindStringList},
		FieldSpec{Key: "data_custodian_id", Prompt: "Who is the data custodian? (person handle, or search)", Kind: KindReference, RefSubtype: models.SubtypePerson},
		FieldSpec{Key: "point_of_contact", Prompt: "Point of contact details?", Kind: KindString},
		userMetadataField(),
	)

	return &OperationSchema{
		Operation:  "create_dataset",
		Subtype:    models.SubtypeDataset,
		CreatePath: "registry/entity/dataset/create",
		Fields:     fields,
	}
}

func modelRunSchema() *OperationSchema {
	return &OperationSchema{
		Operation:  "create_model_run",
		Subtype:    models.SubtypeModelRun,
		CreatePath: "registry/activity/model_run/create",
		Fields: []FieldSpec{
			{Key: "workflow_template_id", Prompt: "Which workflow template was run? (handle, or search)", Required: true, Kind: KindReference, RefSubtype: models.SubtypeModelRunWorkflowTemplate},
			{Key: "display_name", Prompt: "What should this run be called?", Required: true, Kind: KindString},
			{Key: "description", Prompt: "Describe the run.", Required: true, Kind: KindString},
			{Key: "start_time", Prompt: "When did the run start? (RFC 3339)", Required: true, Kind: KindDatetime},
			{Key: "end_time", Prompt: "When did the run end? (RFC 3339, after the start)", Required: true, Kind: KindDatetime},
			{Key: "modeller_id", Prompt: "Who ran it? (person handle, or search)", Required: true, Kind: KindReference, RefSubtype: models.SubtypePerson},
			{Key: "requesting_organisation_id", Prompt: "Which organisation requested it? (handle, or search)", Required: true, Kind: KindReference, RefSubtype: models.SubtypeOrganisation},
			{Key: "model_version", Prompt: "Model version used, if known?", Kind: KindString},
			{Key: "input_datasets", Prompt: "Input datasets as a JSON array, if any?", Kind: KindJSON},
			{Key: "output_datasets", Prompt: "Output datasets as a JSON array, if any?", Kind: KindJSON},
			{Key: "annotations", Prompt: "Annotations as a JSON object, if any?", Kind: KindJSONObject},
			userMetadataField(),
		},
		CrossChecks: []func(map[string]any) error{checkRunInterval},
	}
}

// checkRunInterval enforces end_time strictly after start_time.
func checkRunInterval(collected map[string]any) error {
	startRaw, okS := collected["start_time"].(string)
	endRaw, okE := collected["end_time"].(string)
	if !okS || !okE {
		return nil
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return nil
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return nil
	}
	if !end.After(start) {
		return invalid("end_time", "must be after start_time (%s)", startRaw)
	}
	return nil
}
