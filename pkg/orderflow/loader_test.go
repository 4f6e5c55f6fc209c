package orderflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orderflow/pkg/orderflow/template"
)

const flowYAML = `
name: ${FLOW_NAME}
source: ${SOURCE:-shop}
startAt: placed
states:
  - name: placed
    type: task
    emit: ${PLACED_EVENT:-order_placed}
    next: waiting
  - name: waiting
    type: wait
    on:
      - event: confirmed
        when: detail.priority == 'high'
        next: done
  - name: done
    type: succeed
  - name: failed
    type: fail
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(flowYAML), template.Map(map[string]string{"FLOW_NAME": "express"}))
	require.NoError(t, err)

	assert.Equal(t, "express", def.Name)
	assert.Equal(t, "shop", def.Source)
	require.Len(t, def.States, 4)
	assert.Equal(t, "order_placed", def.States[0].Emit)
	assert.Equal(t, "detail.priority == 'high'", def.States[1].On[0].When)

	wf, err := Compile(def)
	require.NoError(t, err)
	assert.Equal(t, []string{"confirmed"}, wf.EventTypes())
}

func TestParseDefinition_MissingVariable(t *testing.T) {
	_, err := ParseDefinition([]byte(flowYAML), template.Map(nil))
	require.Error(t, err)

	var missing *template.MissingVariableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"FLOW_NAME"}, missing.Names)
}

func TestParseDefinition_UnknownField(t *testing.T) {
	_, err := ParseDefinition([]byte("name: x\nstartsAt: placed\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startsAt")
}

func TestParseDefinition_InvalidYAML(t *testing.T) {
	_, err := ParseDefinition([]byte("states: [unclosed"), nil)
	assert.Error(t, err)
}

func TestLoadDefinitionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(flowYAML), 0o600))

	def, err := LoadDefinitionFile(path, template.Map(map[string]string{"FLOW_NAME": "file", "SOURCE": "store"}))
	require.NoError(t, err)
	assert.Equal(t, "file", def.Name)
	assert.Equal(t, "store", def.Source)

	_, err = LoadDefinitionFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestDefaultDefinition_Overrides(t *testing.T) {
	def, err := DefaultDefinition(template.Map(map[string]string{
		"SERVICE_NAME": "eats",
		"EVENT_SOURCE": "eats-api",
	}))
	require.NoError(t, err)
	assert.Equal(t, "eats-order-flow", def.Name)
	assert.Equal(t, "eats-api", def.Source)
}

func TestDefaultWorkflow_FromEnv(t *testing.T) {
	t.Setenv("EVENT_SOURCE", "env-source")

	wf, err := DefaultWorkflow()
	require.NoError(t, err)
	assert.Equal(t, "env-source", wf.Source())
}
