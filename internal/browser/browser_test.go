package browser_test

import (
	"context"
	"testing"

	"github.com/go-rod/rod/lib/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepflow/internal/browser"
	"github.com/v0xg/stepflow/internal/browser/browsertest"
)

func TestSnapshot(t *testing.T) {
	d := browsertest.New()
	d.EvalFunc = func(js string, args ...any) ([]byte, error) {
		return []byte(`{
			"url": "https://example.com/login",
			"title": "Sign in",
			"isSPA": true,
			"elements": [
				{"selector": "#login", "type": "button", "text": "Log in", "visible": true},
				{"selector": "input[name=\"remember\"]", "type": "checkbox", "visible": false}
			]
		}`), nil
	}

	pm, err := browser.Snapshot(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, "Sign in", pm.Title)
	assert.True(t, pm.IsSPA)
	require.Len(t, pm.Elements, 2)
	assert.Equal(t, "#login", pm.Elements[0].Selector)
	assert.False(t, pm.Elements[1].Visible)
	assert.Equal(t, 1, d.Count("eval"))
}

func TestSnapshot_BadPayload(t *testing.T) {
	d := browsertest.New()
	d.EvalFunc = func(string, ...any) ([]byte, error) { return []byte(`"nope"`), nil }

	_, err := browser.Snapshot(context.Background(), d)
	assert.Error(t, err)
}

func TestKeyByName(t *testing.T) {
	tests := []struct {
		name string
		want input.Key
	}{
		{"Enter", input.Enter},
		{"escape", input.Escape},
		{" ArrowDown ", input.ArrowDown},
		{"a", input.Key('a')},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := browser.KeyByName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := browser.KeyByName("Hyper")
	assert.Error(t, err)
}
