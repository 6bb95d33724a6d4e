package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

// DynamoAPI is the subset of *dynamodb.Client the store calls.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps one item per user keyed by user_id.
type DynamoStore struct {
	client DynamoAPI
	table  string
	log    logx.Logger
}

// NewDynamo wraps an existing client.
func NewDynamo(client DynamoAPI, table string, log logx.Logger) *DynamoStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DynamoStore{client: client, table: table, log: log}
}

func openDynamo(ctx context.Context, cfg Config, log logx.Logger) (ConfigStore, error) {
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("storage.table is required for dynamodb driver")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	// Endpoint points at a local emulator.
	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return NewDynamo(dynamodb.NewFromConfig(awsCfg, clientOpts...), table, log), nil
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

func (s *DynamoStore) LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error) {
	var (
		out   []model.UserNotificationConfig
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var cfg model.UserNotificationConfig
			if err := attributevalue.UnmarshalMap(item, &cfg); err != nil {
				s.log.Warn("corrupt user config item", logx.Err(err))
				continue
			}
			if cfg.UserID == "" {
				continue
			}
			out = append(out, cfg)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *DynamoStore) LoadConfig(ctx context.Context, userID string) (model.UserNotificationConfig, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       userKey(userID),
	})
	if err != nil {
		return model.UserNotificationConfig{}, err
	}
	if res.Item == nil {
		return model.DefaultUserConfig(userID), nil
	}
	var cfg model.UserNotificationConfig
	if err := attributevalue.UnmarshalMap(res.Item, &cfg); err != nil {
		s.log.Warn("corrupt user config item, using default", logx.String("user", userID), logx.Err(err))
		return model.DefaultUserConfig(userID), nil
	}
	cfg.UserID = userID
	return cfg, nil
}

func (s *DynamoStore) SaveConfig(ctx context.Context, cfg model.UserNotificationConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

func (s *DynamoStore) DeleteConfig(ctx context.Context, userID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       userKey(userID),
	})
	return err
}

func (s *DynamoStore) Close() error { return nil }
