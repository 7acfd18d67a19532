package s3

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tasm/blobstore"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue // key -> item
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := baseURI + ":" + version

	// Check conditional expression
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	// Find items matching baseURI, sort by version descending
	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}

	version := func(item map[string]types.AttributeValue) uint64 {
		v, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		return v
	}
	sort.Slice(items, func(i, j int) bool {
		if params.ScanIndexForward != nil && !*params.ScanIndexForward {
			return version(items[i]) > version(items[j])
		}
		return version(items[i]) < version(items[j])
	})

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}

	return &dynamodb.QueryOutput{Items: items}, nil
}

func (m *mockDDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Key["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Key["version"].(*types.AttributeValueMemberN).Value
	delete(m.items, baseURI+":"+version)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestDDBCommitStore(ddb *mockDDBClient, baseURI string) (*DDBCommitStore, *blobstore.MemoryStore) {
	objects := blobstore.NewMemoryStore()
	return NewDDBCommitStore(objects, ddb, "tasm-commits", baseURI), objects
}

func readCurrent(t *testing.T, store blobstore.BlobStore, name string) string {
	t.Helper()
	data, err := blobstore.ReadAll(context.Background(), store, name)
	require.NoError(t, err)
	return string(data)
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	ctx := context.Background()
	store, objects := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, "cars/CURRENT", []byte("cars/MANIFEST-000001")))
	assert.Equal(t, "cars/MANIFEST-000001", readCurrent(t, store, "cars/CURRENT"))

	// The pointer never reaches S3.
	assert.Equal(t, 0, objects.Len())
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	for i := 1; i <= 12; i++ {
		require.NoError(t, store.Put(ctx, "cars/CURRENT", []byte(fmt.Sprintf("cars/MANIFEST-%06d", i))))
	}
	assert.Equal(t, "cars/MANIFEST-000012", readCurrent(t, store, "cars/CURRENT"))
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	require.NoError(t, store.Put(ctx, "cars/CURRENT", []byte("cars/MANIFEST-000001")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Put(ctx, "cars/CURRENT", []byte(fmt.Sprintf("cars/MANIFEST-%06d", id+2)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			assert.ErrorIs(t, err, ErrConcurrentModification)
		}(i)
	}

	wg.Wait()
	assert.Greater(t, successes, 0, "at least one writer should succeed")
}

func TestDDBCommitStore_NotFoundBeforeCommit(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")

	_, err := store.Open(ctx, "cars/CURRENT")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	store1, _ := newTestDDBCommitStore(ddb, "s3://bucket-a/path/")
	store2, _ := newTestDDBCommitStore(ddb, "s3://bucket-b/path/")

	require.NoError(t, store1.Put(ctx, "cars/CURRENT", []byte("A")))
	require.NoError(t, store2.Put(ctx, "cars/CURRENT", []byte("B")))
	require.NoError(t, store1.Put(ctx, "birds/CURRENT", []byte("C")))

	assert.Equal(t, "A", readCurrent(t, store1, "cars/CURRENT"))
	assert.Equal(t, "B", readCurrent(t, store2, "cars/CURRENT"))
	assert.Equal(t, "C", readCurrent(t, store1, "birds/CURRENT"))
}

func TestDDBCommitStore_DeleteAndPassthrough(t *testing.T) {
	ctx := context.Background()
	store, objects := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test")

	require.NoError(t, store.Put(ctx, "cars/MANIFEST-000001", []byte("{}")))
	require.NoError(t, store.Put(ctx, "cars/CURRENT", []byte("cars/MANIFEST-000001")))
	require.NoError(t, store.Put(ctx, "cars/CURRENT", []byte("cars/MANIFEST-000002")))
	assert.Equal(t, 1, objects.Len())

	names, err := store.List(ctx, "cars/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cars/MANIFEST-000001"}, names)

	require.NoError(t, store.Delete(ctx, "cars/CURRENT"))
	_, err = store.Open(ctx, "cars/CURRENT")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	// A fresh history restarts at version 1.
	require.NoError(t, store.Put(ctx, "cars/CURRENT", []byte("cars/MANIFEST-000003")))
	assert.Equal(t, "cars/MANIFEST-000003", readCurrent(t, store, "cars/CURRENT"))
}
