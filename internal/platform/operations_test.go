package platform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalWireAdSet(t *testing.T) {
	op := NewCreateParentOp("spring-1-adset", "campaign-9", map[string]interface{}{"daily_budget": 500})

	raw, err := op.MarshalWire()
	require.NoError(t, err)

	var wire struct {
		Name        string `json:"name"`
		Method      string `json:"method"`
		RelativeURL string `json:"relative_url"`
		Body        string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "spring-1-adset", wire.Name)
	assert.Equal(t, "POST", wire.Method)
	assert.Equal(t, "adsets", wire.RelativeURL)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(wire.Body), &body))
	assert.Equal(t, "spring-1-adset", body["name"])
	assert.Equal(t, "campaign-9", body["campaign_id"])
	assert.EqualValues(t, 500, body["daily_budget"])
}

func TestMarshalWireAdReferencesAdSetResult(t *testing.T) {
	op := NewCreateChildOp("spring-1-ad", ResultRef("spring-1-adset"), nil)

	raw, err := op.MarshalWire()
	require.NoError(t, err)

	var wire struct {
		RelativeURL string `json:"relative_url"`
		Body        string `json:"body"`
	}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "ads", wire.RelativeURL)
	assert.Contains(t, wire.Body, `{result=spring-1-adset:$.id}`)
}

func TestMarshalWireRequiresParentRef(t *testing.T) {
	_, err := Operation{Type: OpCreateParent, Name: "orphan"}.MarshalWire()
	assert.Error(t, err)

	_, err = Operation{Type: OpCreateChild, Name: "orphan"}.MarshalWire()
	assert.Error(t, err)
}

func TestOpResult(t *testing.T) {
	ok := OpResult{Name: "a", StatusCode: 200, ID: "ad-1"}
	assert.True(t, ok.OK())
	assert.NoError(t, ok.Err())

	failed := OpResult{Name: "b", StatusCode: 400, ErrorCode: 100, Message: "bad"}
	assert.False(t, failed.OK())

	err := failed.Err()
	require.Error(t, err)
	assert.Equal(t, ClassPermanent, Classify(err))
}
