package api

import (
	"strings"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

const schemaCreateTransaction = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["amount", "userId", "email", "domainType"],
  "properties": {
    "amount": { "type": ["number", "string"] },
    "userId": { "type": "string", "minLength": 1 },
    "email": { "type": "string", "minLength": 3 },
    "userName": { "type": "string" },
    "domainType": { "type": "string", "minLength": 1 },
    "gateway": { "type": "string", "enum": ["", "paystack", "flutterwave"] },
    "domainMetadata": { "type": "object" }
  }
}`

const schemaVerifyTransaction = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reference"],
  "properties": {
    "reference": { "type": "string", "minLength": 1 }
  }
}`

var (
	createTransactionLoader = gojsonschema.NewStringLoader(schemaCreateTransaction)
	verifyTransactionLoader = gojsonschema.NewStringLoader(schemaVerifyTransaction)
)

// validateBody checks body against schema. Every violation is reported in
// one message.
func validateBody(schema gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &domain.ValidationError{Message: "malformed JSON body"}
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return &domain.ValidationError{Message: strings.Join(msgs, "; ")}
}
