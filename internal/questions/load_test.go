package questions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlSet = `
construct:
  - "{init} {base}, {cont} {part}."
init: ["Write calc(x) that"]
cont: ["then"]
base:
  - question: "returns x times {m}"
    validator: "f(x) = x * m"
    range:
      m: [2, 5]
    input: [1, 30]
part:
  - question: "adds {b}"
    validator: "f(v) = v + b"
    range:
      b: [1, 3]
`

func TestLoad_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "set.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlSet), 0o600))

	set, err := Load(yamlPath)
	require.NoError(t, err)
	require.Len(t, set.Base, 1)
	assert.Equal(t, Range{Min: 2, Max: 5}, set.Base[0].Range["m"])
	assert.Equal(t, &Range{Min: 1, Max: 30}, set.Base[0].Input)

	jsonPath := filepath.Join(dir, "set.json")
	require.NoError(t, os.WriteFile(jsonPath, defaultSetJSON(t), 0o600))
	set, err = Load(jsonPath)
	require.NoError(t, err)
	assert.NotEmpty(t, set.Construct)
}

func TestParse_LegacyBaseRange(t *testing.T) {
	doc := `{
		"construct": ["{base}"],
		"base": [{"question": "x plus {a}", "validator": "f(x) = x + a", "range": {"a": [1, 2], "__base__": [10, 20]}}]
	}`
	set, err := Parse([]byte(doc), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, &Range{Min: 10, Max: 20}, set.Base[0].Input)
	assert.NotContains(t, set.Base[0].Range, legacyInputKey)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     `{"construct": ["{base}"], "bases": []}`,
		"inverted range":    `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x)=x", "input": [5, 1]}]}`,
		"empty construct":   `{"construct": [], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 10]}]}`,
		"no base":           `{"construct": ["{init}"], "init": ["hi"], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 10]}]}`,
		"two bases":         `{"construct": ["{base} {base}"], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 10]}]}`,
		"nested construct":  `{"construct": ["{base} {construct}"], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 10]}]}`,
		"missing part list": `{"construct": ["{base} {part}"], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 10]}]}`,
		"missing input":     `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x)=x"}]}`,
		"narrow input":      `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 3]}]}`,
		"bad validator":     `{"construct": ["{base}"], "base": [{"question": "q", "validator": "x + 1", "input": [1, 10]}]}`,
		"unbound variable":  `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x)=x + z", "input": [1, 10]}]}`,
		"reserved in text":  `{"construct": ["{base}"], "base": [{"question": "q {part}", "validator": "f(x)=x", "input": [1, 10]}]}`,
		"bad range name":    `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x)=x", "range": {"9a": [1, 2]}, "input": [1, 10]}]}`,
		"empty validator":   `{"construct": ["{base}"], "base": [{"question": "q", "validator": "", "input": [1, 10]}]}`,
		"fractional base":   `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x) = x / 2", "input": [1, 10]}]}`,
		"boolean base":      `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x) = isPrime(x)", "input": [1, 10]}]}`,
		"fractional part":   `{"construct": ["{base} {part}"], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 10]}], "part": [{"question": "p", "validator": "f(v) = v / d", "range": {"d": [2, 4]}}]}`,
		"two documents":     `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x)=x", "input": [1, 10]}]} {}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), FormatJSON)
			assert.ErrorIs(t, err, ErrInvalidSet)
		})
	}
}

func TestParse_DomainErrorsLeftToGenerator(t *testing.T) {
	doc := `{"construct": ["{base}"], "base": [{"question": "q", "validator": "f(x) = factorial(x + 100)", "input": [1, 10]}]}`
	_, err := Parse([]byte(doc), FormatJSON)
	assert.NoError(t, err)
}

func TestParse_YAMLUnknownField(t *testing.T) {
	_, err := Parse([]byte("construct: ['{base}']\nextra: 1\n"), FormatYAML)
	assert.ErrorIs(t, err, ErrInvalidSet)
}

func TestParse_YAMLSchema(t *testing.T) {
	_, err := Parse([]byte("construct: ['{base}']\nbase:\n  - question: q\n    validator: 'f(x)=x'\n    input: [1, 10]\n    range: {'9a': [1, 2]}\n"), FormatYAML)
	assert.ErrorIs(t, err, ErrInvalidSet)
}

func TestSchema_IsJSON(t *testing.T) {
	var v map[string]any
	require.NoError(t, json.Unmarshal(Schema(), &v))
	assert.Equal(t, "object", v["type"])
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("a/b.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("set.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("set.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("set"))
}
