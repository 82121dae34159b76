package llm

import "github.com/invopop/jsonschema"

// GenerateSchema reflects a JSON schema for T, suitable for the Schema field
// of a Request. Additional properties are disallowed and references are
// inlined so that providers with strict schema support accept it.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
