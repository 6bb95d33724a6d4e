package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

func sampleConfig(id string) model.UserNotificationConfig {
	return model.UserNotificationConfig{
		UserID: id,
		Providers: []model.ProviderConfig{
			{ProviderType: "bark", Settings: map[string]string{"deviceKey": "abc"}},
		},
		DefaultProviders: []string{"bark"},
		Reminder:         model.ReminderSettings{Enabled: true, LabelIDs: []int64{3}},
		Digests: []model.ScheduledDigestConfig{{
			ID: "d1", UserID: id, Enabled: true, PushTime: "08:00", MinPriority: 3,
			LastPushTime: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
		}},
	}
}

func exerciseStore(t *testing.T, st ConfigStore) {
	t.Helper()
	ctx := context.Background()

	def, err := st.LoadConfig(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultUserConfig("nobody"), def)

	require.NoError(t, st.SaveConfig(ctx, sampleConfig("u2")))
	require.NoError(t, st.SaveConfig(ctx, sampleConfig("u1")))

	got, err := st.LoadConfig(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Providers[0].Settings["deviceKey"])
	assert.True(t, got.Reminder.Enabled)
	require.Len(t, got.Digests, 1)
	assert.True(t, got.Digests[0].LastPushTime.Equal(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)))

	all, err := st.LoadAllConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "u1", all[0].UserID)
	assert.Equal(t, "u2", all[1].UserID)

	require.NoError(t, st.DeleteConfig(ctx, "u2"))
	all, err = st.LoadAllConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, st.SaveConfig(ctx, model.UserNotificationConfig{}), ErrNoUserID)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	require.NoError(t, st.SaveConfig(ctx, sampleConfig("u1")))

	got, err := st.LoadConfig(ctx, "u1")
	require.NoError(t, err)
	got.Providers[0].Settings["deviceKey"] = "mutated"
	got.Digests[0].PushTime = "23:00"

	again, err := st.LoadConfig(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "abc", again.Providers[0].Settings["deviceKey"])
	assert.Equal(t, "08:00", again.Digests[0].PushTime)
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	st, err := openFile(Config{Path: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, st)
}

func TestFileStoreCorruptFallsBackToDefault(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1.json"), []byte("{not json"), 0o644))

	st, err := openFile(Config{Path: dir}, logx.Nop())
	require.NoError(t, err)

	got, err := st.LoadConfig(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultUserConfig("u1"), got)

	all, err := st.LoadAllConfigs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStoreEscapesUserID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := openFile(Config{Path: dir}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, st.SaveConfig(context.Background(), sampleConfig("../evil")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	all, err := st.LoadAllConfigs(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "../evil", all[0].UserID)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := openSQLite(context.Background(), Config{Path: filepath.Join(t.TempDir(), "db", "cfg.db"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	exerciseStore(t, st)
}

func TestSQLiteUpsertOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := openSQLite(ctx, Config{Path: filepath.Join(t.TempDir(), "cfg.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := sampleConfig("u1")
	require.NoError(t, st.SaveConfig(ctx, cfg))
	cfg.Digests[0].PushTime = "21:30"
	require.NoError(t, st.SaveConfig(ctx, cfg))

	got, err := st.LoadConfig(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "21:30", got.Digests[0].PushTime)
}

// fakeDynamo stores items by user_id.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func (f *fakeDynamo) key(k map[string]types.AttributeValue) string {
	return k["user_id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[f.key(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[f.key(in.Key)]}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.ScanOutput{}
	for _, it := range f.items {
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, f.key(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore(t *testing.T) {
	t.Parallel()
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	exerciseStore(t, NewDynamo(fake, "configs", logx.Nop()))
}

func TestDynamoItemShape(t *testing.T) {
	t.Parallel()
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	st := NewDynamo(fake, "configs", logx.Nop())
	require.NoError(t, st.SaveConfig(context.Background(), sampleConfig("u1")))

	item := fake.items["u1"]
	require.NotNil(t, item)
	var reminder model.ReminderSettings
	require.NoError(t, attributevalue.Unmarshal(item["reminder"], &reminder))
	assert.Equal(t, []int64{3}, reminder.LabelIDs)
}

func TestValidateReportsFields(t *testing.T) {
	t.Parallel()
	cfg := sampleConfig("u1")
	cfg.Digests[0].MinPriority = 9
	cfg.Providers = append(cfg.Providers, model.ProviderConfig{})

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed 'lte'")
	assert.Contains(t, err.Error(), "failed 'required'")
}

func TestOpenSeedsMissingUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := Open(ctx, Config{Driver: "file", Path: dir, Seed: []model.UserNotificationConfig{sampleConfig("u1")}}, logx.Nop())
	require.NoError(t, err)
	cfg := sampleConfig("u1")
	cfg.DefaultProviders = nil
	require.NoError(t, st.SaveConfig(ctx, cfg))
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Driver: "file", Path: dir, Seed: []model.UserNotificationConfig{sampleConfig("u1"), sampleConfig("u2")}}, logx.Nop())
	require.NoError(t, err)
	got, err := st.LoadConfig(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.DefaultProviders, "existing config is not overwritten")

	all, err := st.LoadAllConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}
