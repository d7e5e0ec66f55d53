package fixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResponseAllChannels(t *testing.T) {
	raw := `<reasoning>
The ConnectionError means the host is wrong. Switch to the documented endpoint.
</reasoning>

I updated the base URL and added a retry on transient failures.

` + "```python\nimport requests\nresp = requests.get('https://api.example.com/v2/items')\nprint(resp.json())\n```"

	result := ParseResponse(raw)

	assert.Contains(t, result.ReasoningTrace, "ConnectionError means the host is wrong")
	assert.Contains(t, result.VisibleOutput, "updated the base URL")
	assert.NotContains(t, result.VisibleOutput, "<reasoning>")
	assert.NotContains(t, result.VisibleOutput, "import requests")
	assert.Contains(t, result.Code, "api.example.com/v2/items")
}

func TestParseResponseNoReasoning(t *testing.T) {
	raw := "Fixed the auth header.\n\n```python\nprint('ok')\n```"

	result := ParseResponse(raw)

	assert.Empty(t, result.ReasoningTrace)
	assert.Equal(t, "Fixed the auth header.", result.VisibleOutput)
	assert.Equal(t, "print('ok')", result.Code)
}

func TestParseResponseNoCode(t *testing.T) {
	result := ParseResponse("I cannot determine the cause from these logs.")

	assert.Empty(t, result.Code)
	assert.Contains(t, result.VisibleOutput, "cannot determine")
}

func TestParseResponsePrefersLargestBlock(t *testing.T) {
	raw := "The problem is this line:\n\n```python\nresp.json()\n```\n\nFull corrected program:\n\n```python\nimport requests\nimport time\n\nfor attempt in range(3):\n    resp = requests.get(URL, timeout=10)\n    if resp.ok:\n        break\n    time.sleep(1)\nprint(resp.json())\n```"

	result := ParseResponse(raw)

	assert.Contains(t, result.Code, "for attempt in range(3)")
	assert.Contains(t, result.VisibleOutput, "The problem is this line")
}

func TestParseResponseUnterminatedFence(t *testing.T) {
	raw := "Here is the fix:\n\n```python\nimport json\nprint(json.dumps({'ok': True}))"

	result := ParseResponse(raw)

	assert.Contains(t, result.Code, "json.dumps")
	assert.Contains(t, result.VisibleOutput, "Here is the fix")
}

func TestParseResponseEmptyInput(t *testing.T) {
	result := ParseResponse("")

	assert.Empty(t, result.Code)
	assert.Empty(t, result.ReasoningTrace)
	assert.Empty(t, result.VisibleOutput)
}
