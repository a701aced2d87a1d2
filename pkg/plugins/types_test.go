package plugins

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_RoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindSource, KindPrebuilt, KindExternal, KindObsolete} {
		parsed, err := ParseKind(kind.String())
		assert.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusNone.Terminal())
	assert.False(t, StatusPendingUpdate.Terminal())
	assert.False(t, StatusUpdated.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusBlocked.Terminal())
}

func TestRecord_BuildKind(t *testing.T) {
	assert.Equal(t, KindSource, (&Record{Kind: KindSource}).BuildKind())
	assert.Equal(t, KindPrebuilt, (&Record{Kind: KindExternal}).BuildKind())
	assert.Equal(t, KindSource, (&Record{Kind: KindExternal, Payload: KindSource}).BuildKind())
}

func TestRecord_SetStatus(t *testing.T) {
	rec := &Record{ID: "a"}
	rec.SetStatus(StatusError, errors.New("boom"))
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "boom", rec.Message)

	rec.SetStatus(StatusUpdated, nil)
	assert.Empty(t, rec.Message)
	assert.NoError(t, rec.Err)
}

func TestRecord_CloneDropsGroup(t *testing.T) {
	other := &Record{ID: "b"}
	rec := &Record{
		ID:           "a",
		Group:        []*Record{other},
		Files:        []string{"a.go"},
		Dependencies: []string{"2"},
		Build:        &BuildStep{Command: "make", Args: []string{"wasm"}},
	}

	c := rec.Clone()
	assert.Nil(t, c.Group)

	c.Files[0] = "changed.go"
	c.Build.Args[0] = "changed"
	assert.Equal(t, "a.go", rec.Files[0])
	assert.Equal(t, "wasm", rec.Build.Args[0])
}

func TestRecord_Label(t *testing.T) {
	assert.Equal(t, "Chat (chat)", (&Record{ID: "chat", FriendlyName: "Chat"}).Label())
	assert.Equal(t, "chat", (&Record{ID: "chat", FriendlyName: "chat"}).Label())
}
