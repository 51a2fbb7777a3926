package handlers

import "github.com/xeipuuv/gojsonschema"

const mentorFieldSchema = `{"type": "string", "minLength": 5, "maxLength": 60}`

const trimFieldSchema = `{
	"type": "object",
	"properties": {
		"start": {"type": "number", "minimum": 0},
		"end": {"type": "number", "exclusiveMinimum": 0}
	},
	"required": ["start", "end"],
	"additionalProperties": false
}`

const UploadAnswerRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"mentor": ` + mentorFieldSchema + `,
		"question": ` + mentorFieldSchema + `,
		"trim": ` + trimFieldSchema + `,
		"hasEditedTranscript": {"type": "boolean"}
	},
	"required": ["mentor", "question"],
	"additionalProperties": false
}`

const TrimExistingUploadRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"mentor": ` + mentorFieldSchema + `,
		"question": ` + mentorFieldSchema + `,
		"trim": ` + trimFieldSchema + `
	},
	"required": ["mentor", "question", "trim"],
	"additionalProperties": false
}`

const RegenVTTRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"mentor": ` + mentorFieldSchema + `,
		"question": ` + mentorFieldSchema + `
	},
	"required": ["mentor", "question"],
	"additionalProperties": false
}`

const CancelUploadRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"mentor": ` + mentorFieldSchema + `,
		"question": ` + mentorFieldSchema + `,
		"task_ids_to_cancel": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		}
	},
	"required": ["mentor", "question", "task_ids_to_cancel"],
	"additionalProperties": false
}`

const TransferAnswerRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"mentor": ` + mentorFieldSchema + `,
		"question": ` + mentorFieldSchema + `
	},
	"required": ["mentor", "question"],
	"additionalProperties": false
}`

const TransferMentorRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"mentor": ` + mentorFieldSchema + `,
		"mentorExportJson": {"type": "object"},
		"replacedMentorDataChanges": {"type": "object"}
	},
	"required": ["mentor", "mentorExportJson", "replacedMentorDataChanges"],
	"additionalProperties": false
}`

const ThumbnailRequestSchemaDefinition = `{
	"type": "object",
	"properties": {
		"mentor": ` + mentorFieldSchema + `
	},
	"required": ["mentor"],
	"additionalProperties": false
}`

var inputSchemas map[string]string = map[string]string{
	"UploadAnswer":       UploadAnswerRequestSchemaDefinition,
	"TrimExistingUpload": TrimExistingUploadRequestSchemaDefinition,
	"RegenVTT":           RegenVTTRequestSchemaDefinition,
	"CancelUpload":       CancelUploadRequestSchemaDefinition,
	"TransferAnswer":     TransferAnswerRequestSchemaDefinition,
	"TransferMentor":     TransferMentorRequestSchemaDefinition,
	"Thumbnail":          ThumbnailRequestSchemaDefinition,
}

func compileJsonSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, 0)
	for name, text := range inputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			// rase panic on program start
			panic(err) // fix schema text
		}
		compiled[name] = schema
	}
	return compiled
}

// Run compile step on program start:
var inputSchemasCompiled map[string]*gojsonschema.Schema = compileJsonSchemas()
