package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	vars := Map(map[string]string{
		"STAGE":   "dev",
		"SERVICE": "big-mouth",
		"EMPTY":   "",
	})

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no references", "plain: text", "plain: text"},
		{"single", "stage: ${STAGE}", "stage: dev"},
		{"multiple", "${SERVICE}-${STAGE}-order-events", "big-mouth-dev-order-events"},
		{"default unused", "${STAGE:-prod}", "dev"},
		{"default used", "${TOPIC:-restaurant_notification}", "restaurant_notification"},
		{"empty default", "x${TOPIC:-}y", "xy"},
		{"empty value is set", "x${EMPTY:-fallback}y", "xy"},
		{"missing kept", "${UNKNOWN}", "${UNKNOWN}"},
		{"escaped dollar", "cost: $$5 in ${STAGE}", "cost: $5 in dev"},
		{"bare dollar untouched", "$STAGE", "$STAGE"},
		{"in yaml", "name: ${SERVICE}\nstage: ${STAGE}\n", "name: big-mouth\nstage: dev\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.src, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstitute_MissingEmpty(t *testing.T) {
	got, err := Substitute("a${X}b", nil, WithMissing(MissingEmpty))
	require.NoError(t, err)
	assert.Equal(t, "ab", got)
}

func TestSubstitute_MissingError(t *testing.T) {
	_, err := Substitute("${A} ${B} ${A} ${C:-ok}", Map(nil), WithMissing(MissingError))
	require.Error(t, err)

	var missing *MissingVariableError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"A", "B"}, missing.Names)
	assert.Contains(t, err.Error(), "A, B")
}

func TestEnv(t *testing.T) {
	t.Setenv("ORDERFLOW_TEMPLATE_TEST", "from-env")

	got, err := Substitute("${ORDERFLOW_TEMPLATE_TEST}", Env)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}

func TestChain(t *testing.T) {
	lookup := Chain(
		nil,
		Map(map[string]string{"A": "first"}),
		Map(map[string]string{"A": "second", "B": "second"}),
	)

	got, err := Substitute("${A}/${B}/${C:-none}", lookup)
	require.NoError(t, err)
	assert.Equal(t, "first/second/none", got)
}

func TestReferences(t *testing.T) {
	got := References("${A} $$ ${B:-x} ${A} $C")
	assert.Equal(t, []string{"A", "B"}, got)
	assert.Empty(t, References("nothing here"))
}
