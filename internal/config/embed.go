package config

import (
	_ "embed"
	"fmt"
)

//go:embed fhirsync.example.toml
var ExampleTOML []byte

// BuildExample prepends the endpoint setting to the embedded example config.
// An empty endpoint is written as a commented placeholder.
func BuildExample(endpoint string) []byte {
	header := "# endpoint = \"https://fhir.example.org/fhir/Library\"\n"
	if endpoint != "" {
		header = fmt.Sprintf("endpoint = %q\n", endpoint)
	}
	return append([]byte(header), ExampleTOML...)
}
