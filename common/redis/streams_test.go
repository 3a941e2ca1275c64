package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "checkin:events", "station-a", "$"))
	// 组已存在时不报错
	require.NoError(t, CreateConsumerGroup(ctx, client, "checkin:events", "station-a", "$"))
}

func TestPublishAndReadFromStream(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "checkin:events", "station-a", "0"))

	id, err := PublishJSONToStream(ctx, client, "checkin:events", map[string]interface{}{
		"subjectId": "7",
		"checkedIn": true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages, err := ReadFromStream(ctx, client, "checkin:events", "station-a", "consumer-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, id, messages[0].ID)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(messages[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "7", decoded["subjectId"])

	require.NoError(t, Ack(ctx, client, "checkin:events", "station-a", id))

	// 已被本组读取，不会再次投递
	messages, err = ReadFromStream(ctx, client, "checkin:events", "station-a", "consumer-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestReadFromStream_EachGroupSeesEveryMessage(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "checkin:events", "station-a", "0"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "checkin:events", "station-b", "0"))

	_, err := PublishJSONToStream(ctx, client, "checkin:events", map[string]interface{}{"subjectId": "1"})
	require.NoError(t, err)

	a, err := ReadFromStream(ctx, client, "checkin:events", "station-a", "c", 10, 10*time.Millisecond)
	require.NoError(t, err)
	b, err := ReadFromStream(ctx, client, "checkin:events", "station-b", "c", 10, 10*time.Millisecond)
	require.NoError(t, err)

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}
