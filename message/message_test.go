package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingle(t *testing.T) {
	m, err := Parse([]byte(` {"jsonrpc":"2.0","id":7,"result":"0x1"} `))
	require.NoError(t, err)

	id, ok := m.ID()
	assert.True(t, ok)
	assert.Equal(t, "7", id)
	assert.False(t, m.IsBatch())
	assert.Equal(t, `{"jsonrpc":"2.0","id":7,"result":"0x1"}`, m.String())
}

func TestParseStringAndNullIDs(t *testing.T) {
	m := MustParse(`{"id":"7"}`)
	id, _ := m.ID()
	assert.Equal(t, `"7"`, id, "string ids keep their quotes so they never collide with numbers")

	m = MustParse(`{"id":null,"error":{"code":-32700,"message":"parse error"}}`)
	_, ok := m.ID()
	assert.False(t, ok)
}

func TestParseBatch(t *testing.T) {
	m, err := Parse([]byte(`[{"id":1,"result":1},{"id":2,"result":2}]`))
	require.NoError(t, err)
	require.True(t, m.IsBatch())
	require.Len(t, m.Members(), 2)

	id, _ := m.Members()[1].ID()
	assert.Equal(t, "2", id)
	_, ok := m.ID()
	assert.False(t, ok, "a batch has no id of its own")
}

func TestParseNotification(t *testing.T) {
	m := MustParse(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xa","result":{}}}`)
	assert.True(t, m.IsNotification())

	var n Notification
	require.NoError(t, m.Decode(&n))
	assert.Equal(t, "0xa", n.Params.Subscription)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	for _, in := range []string{``, `  `, `{"id":`, `[1,`, `nope`, `{"id":1,:}`} {
		_, err := Parse([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestParseToleratesUnexpectedShapes(t *testing.T) {
	m := MustParse(`{"id":1,"method":{"x":1}}`)
	id, ok := m.ID()
	assert.True(t, ok)
	assert.Equal(t, "1", id)
	assert.Empty(t, m.Method(), "only a JSON string is a method")
	assert.False(t, m.IsNotification())

	m = MustParse(`[1,"x",[{"id":3}],{"id":2}]`)
	require.True(t, m.IsBatch())
	require.Len(t, m.Members(), 1, "non-object members are skipped")
	id, _ = m.Members()[0].ID()
	assert.Equal(t, "2", id)

	for _, in := range []string{`42`, `"x"`, `null`, `true`} {
		m := MustParse(in)
		assert.False(t, m.IsObject(), in)
		assert.False(t, m.IsBatch(), in)
		_, ok := m.ID()
		assert.False(t, ok, in)
	}
}

func TestParseKeysAreCaseSensitive(t *testing.T) {
	m := MustParse(`{"ID":1,"Method":"eth_subscription"}`)
	_, ok := m.ID()
	assert.False(t, ok)
	assert.False(t, m.IsNotification())
	assert.True(t, m.IsObject())
}
