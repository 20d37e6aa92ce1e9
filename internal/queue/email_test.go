package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOutbox_Enqueue(t *testing.T) {
	o := NewMemoryOutbox()
	userID := uuid.New()

	require.NoError(t, o.Enqueue(context.Background(), Email{UserID: userID, To: "b@example.com", Subject: "Оплата получена"}))

	sent := o.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, userID, sent[0].UserID)
	assert.Equal(t, "Оплата получена", sent[0].Subject)
}

func TestMemoryOutbox_DrainDigest(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryOutbox()
	userID := uuid.New()

	require.NoError(t, o.AddToDigest(ctx, "daily", DigestEntry{UserID: userID, Title: "Новое сообщение"}))
	require.NoError(t, o.AddToDigest(ctx, "daily", DigestEntry{UserID: userID, Title: "Новое сообщение"}))
	require.NoError(t, o.AddToDigest(ctx, "weekly", DigestEntry{UserID: userID, Title: "Новое сообщение"}))

	daily, err := o.DrainDigest(ctx, "daily")
	require.NoError(t, err)
	assert.Len(t, daily, 2)

	again, err := o.DrainDigest(ctx, "daily")
	require.NoError(t, err)
	assert.Empty(t, again)

	weekly, err := o.DrainDigest(ctx, "weekly")
	require.NoError(t, err)
	assert.Len(t, weekly, 1)
}

func TestDigestKey(t *testing.T) {
	assert.Equal(t, "neurolancer:email:digest:weekly", DigestKey("weekly"))
}
