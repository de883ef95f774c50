package capability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func echoCapability() Capability {
	return Capability{
		Name:        "echo",
		Description: "Echo the message back.",
		Params: []Param{
			{Name: "message", Type: TypeString, Required: true},
			{Name: "times", Type: TypeInteger, Default: 1},
		},
		Handler: func(_ context.Context, args Args) (string, error) {
			return fmt.Sprintf("%s x%d", args.Text("message"), args.Int("times")), nil
		},
	}
}

func TestNewRegistry_SchemasMatchDispatch(t *testing.T) {
	t.Parallel()

	other := echoCapability()
	other.Name = "shout"
	reg, err := NewRegistry(echoCapability(), other)
	require.NoError(t, err)

	schemas := reg.Schemas()
	require.Len(t, schemas, 2)
	require.Equal(t, []string{"echo", "shout"}, reg.Names())
	for _, s := range schemas {
		require.True(t, reg.Has(s.Name))
	}

	props := schemas[0].InputSchema["properties"].(map[string]any)
	require.Contains(t, props, "message")
	require.Equal(t, 1, props["times"].(map[string]any)["default"])
	require.Equal(t, []string{"message"}, schemas[0].InputSchema["required"])
}

func TestNewRegistry_RejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, Args) (string, error) { return "", nil }
	cases := map[string][]Capability{
		"duplicate":          {echoCapability(), echoCapability()},
		"nil handler":        {{Name: "x", Description: "d"}},
		"bad name":           {{Name: "has space", Description: "d", Handler: noop}},
		"empty description":  {{Name: "x", Handler: noop}},
		"unknown type":       {{Name: "x", Description: "d", Handler: noop, Params: []Param{{Name: "p", Type: "object"}}}},
		"duplicate param":    {{Name: "x", Description: "d", Handler: noop, Params: []Param{{Name: "p", Type: TypeString}, {Name: "p", Type: TypeString}}}},
		"default wrong type": {{Name: "x", Description: "d", Handler: noop, Params: []Param{{Name: "p", Type: TypeInteger, Default: "ten"}}}},
		"required default":   {{Name: "x", Description: "d", Handler: noop, Params: []Param{{Name: "p", Type: TypeString, Required: true, Default: "a"}}}},
	}
	for name, caps := range cases {
		_, err := NewRegistry(caps...)
		require.Error(t, err, name)
	}
}

func TestInvoke_AppliesDefaults(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(echoCapability())
	require.NoError(t, err)

	res := reg.Invoke(context.Background(), "echo", map[string]any{"message": "hi"})
	require.False(t, res.IsError)
	require.Equal(t, "hi x1", res.Text)

	// JSON-decoded numbers arrive as float64.
	res = reg.Invoke(context.Background(), "echo", map[string]any{"message": "hi", "times": float64(3)})
	require.False(t, res.IsError)
	require.Equal(t, "hi x3", res.Text)

	// Explicit null is treated as absent.
	res = reg.Invoke(context.Background(), "echo", map[string]any{"message": "hi", "times": nil})
	require.False(t, res.IsError)
	require.Equal(t, "hi x1", res.Text)
}

func TestInvoke_FailuresAreResults(t *testing.T) {
	t.Parallel()

	failing := Capability{
		Name:        "fail",
		Description: "Always fails.",
		Handler: func(context.Context, Args) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}
	panicky := Capability{
		Name:        "boom",
		Description: "Panics.",
		Handler: func(context.Context, Args) (string, error) {
			panic("kaboom")
		},
	}
	reg, err := NewRegistry(echoCapability(), failing, panicky)
	require.NoError(t, err)
	ctx := context.Background()

	res := reg.Invoke(ctx, "missing", nil)
	require.True(t, res.IsError)
	require.Equal(t, "Unknown capability: missing", res.Text)

	res = reg.Invoke(ctx, "echo", map[string]any{})
	require.True(t, res.IsError)
	require.Contains(t, res.Text, "Invalid arguments for echo")
	require.Contains(t, res.Text, "message")

	res = reg.Invoke(ctx, "echo", map[string]any{"message": 42})
	require.True(t, res.IsError)
	require.Contains(t, res.Text, "Invalid arguments for echo")

	res = reg.Invoke(ctx, "echo", map[string]any{"message": "hi", "times": 1.5})
	require.True(t, res.IsError)

	res = reg.Invoke(ctx, "fail", nil)
	require.True(t, res.IsError)
	require.Equal(t, "Error: backend unavailable", res.Text)

	res = reg.Invoke(ctx, "boom", nil)
	require.True(t, res.IsError)
	require.Contains(t, res.Text, "panicked: kaboom")
}

func TestArgsAccessors(t *testing.T) {
	t.Parallel()

	args := Args{"s": "x", "f": float64(4), "b": true, "frac": 2.5}
	require.Equal(t, "x", args.Text("s"))
	require.Equal(t, "", args.Text("missing"))
	require.Equal(t, 4, args.Int("f"))
	require.Equal(t, 0, args.Int("frac"))
	require.True(t, args.Bool("b"))
	require.True(t, args.Has("s"))
	require.False(t, args.Has("missing"))
}
