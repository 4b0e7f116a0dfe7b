package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bt-bridge/realtime-interpreter/classify"
	"github.com/bt-bridge/realtime-interpreter/shared"
)

func newConversation(id string) Conversation {
	return Conversation{
		Id:             id,
		SessionId:      "sess_" + id,
		Status:         StatusActive,
		LanguageConfig: classify.DefaultLanguageConfig(),
		StartedAt:      time.Now(),
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, newConversation("conv_1")))
	require.Error(t, store.Create(ctx, newConversation("conv_1")), "duplicate id must be rejected")
	require.Error(t, store.Create(ctx, Conversation{}), "empty id must be rejected")

	conv, err := store.Get(ctx, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, conv.Status)

	_, err = store.Get(ctx, "conv_missing")
	require.ErrorIs(t, err, shared.ErrConversationNotFound)
}

func TestMemoryStoreMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newConversation("conv_1")))

	msg := Message{
		Id:             "msg_1",
		Role:           classify.RoleA,
		OriginalText:   "Hello, how are you?",
		TranslatedText: "Hola, ¿cómo estás?",
		Language:       "english",
		CreatedAt:      time.Now(),
		Intents:        []Intent{{Type: "greeting", Confidence: 0.9}},
	}
	require.NoError(t, store.AddMessage(ctx, "conv_1", msg))
	require.ErrorIs(t, store.AddMessage(ctx, "conv_missing", msg), shared.ErrConversationNotFound)

	conv, err := store.Get(ctx, "conv_1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "conv_1", conv.Messages[0].ConversationId)
	assert.Equal(t, "Hola, ¿cómo estás?", conv.Messages[0].TranslatedText)
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newConversation("conv_1")))
	require.NoError(t, store.AddMessage(ctx, "conv_1", Message{Id: "msg_1"}))

	conv, err := store.Get(ctx, "conv_1")
	require.NoError(t, err)
	conv.Messages[0].OriginalText = "mutated"

	fresh, err := store.Get(ctx, "conv_1")
	require.NoError(t, err)
	assert.Empty(t, fresh.Messages[0].OriginalText)
}

func TestMemoryStoreFinishIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newConversation("conv_1")))

	summary := "short visit"
	require.NoError(t, store.Finish(ctx, "conv_1", &summary))
	conv, err := store.Get(ctx, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, conv.Status)
	require.NotNil(t, conv.StoppedAt)
	firstStop := *conv.StoppedAt

	// a second finish neither overwrites the summary nor moves the timestamp
	other := "different"
	require.NoError(t, store.Finish(ctx, "conv_1", &other))
	conv, err = store.Get(ctx, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, summary, *conv.Summary)
	assert.Equal(t, firstStop, *conv.StoppedAt)
}

func TestMemoryStoreResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newConversation("conv_1")))
	require.NoError(t, store.Finish(ctx, "conv_1", nil))

	conv, err := store.Resume(ctx, "conv_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, conv.Status)
	assert.Nil(t, conv.StoppedAt)

	_, err = store.Resume(ctx, "conv_missing")
	require.ErrorIs(t, err, shared.ErrConversationNotFound)
}

func TestMemoryStoreListOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()
	for i, id := range []string{"conv_b", "conv_a", "conv_c"} {
		conv := newConversation(id)
		conv.StartedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, conv))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "conv_b", list[0].Id)
	assert.Equal(t, "conv_c", list[2].Id)
}

func TestMemoryStoreHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()
	require.Error(t, store.Create(ctx, newConversation("conv_1")))
	_, err := store.List(ctx)
	require.Error(t, err)
}
