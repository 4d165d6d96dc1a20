package history

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB history store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// LoadDefaultConfig probes IMDS, which hangs when static credentials are intended
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	log := logger.With().Str("component", "history").Logger()
	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: log,
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, log); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB history store initialized")

	return store, nil
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("History disabled (DYNAMO_MODE=none)")
		return NewNoopStore(), nil
	}
}

func (s *DynamoDBStore) SaveSession(ctx context.Context, record types.CallSessionRecord) error {
	return s.put(ctx, s.config.SessionsTable, record)
}

func (s *DynamoDBStore) SavePresence(ctx context.Context, record types.PresenceRecord) error {
	return s.put(ctx, s.config.PresenceTable, record)
}

func (s *DynamoDBStore) put(ctx context.Context, table string, record any) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s item: %w", table, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save %s item: %w", table, err)
	}
	return nil
}

func (s *DynamoDBStore) GetSessions(ctx context.Context, dateKey string) ([]types.CallSessionRecord, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(dateKey))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var records []types.CallSessionRecord
	if err := s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.SessionsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, &records); err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return records, nil
}

func (s *DynamoDBStore) GetAgentSessionsByDate(ctx context.Context, agentID, date string) ([]types.CallSessionRecord, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(date))
	filter := expression.Name("AgentID").Equal(expression.Value(agentID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var records []types.CallSessionRecord
	if err := s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.SessionsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, &records); err != nil {
		return nil, fmt.Errorf("failed to query agent sessions: %w", err)
	}
	return records, nil
}

func (s *DynamoDBStore) GetPresence(ctx context.Context, agentID string) ([]types.PresenceRecord, error) {
	keyCond := expression.Key("AgentID").Equal(expression.Value(agentID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var records []types.PresenceRecord
	if err := s.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.PresenceTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, &records); err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	return records, nil
}

// query follows pagination and unmarshals every page into out
func (s *DynamoDBStore) query(ctx context.Context, input *dynamodb.QueryInput, out any) error {
	var items []map[string]dbtypes.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		items = append(items, page.Items...)
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

// TruncateAll deletes all items from both history tables (scan + batch delete)
func (s *DynamoDBStore) TruncateAll(ctx context.Context) error {
	for _, table := range historyTables(s.config) {
		if err := s.truncateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table.name, err)
		}
	}
	return nil
}

func (s *DynamoDBStore) truncateTable(ctx context.Context, table tableKeys) error {
	var lastKey map[string]dbtypes.AttributeValue

	for {
		input := &dynamodb.ScanInput{
			TableName:            aws.String(table.name),
			ProjectionExpression: aws.String("#pk, #sk"),
			ExpressionAttributeNames: map[string]string{
				"#pk": table.pk,
				"#sk": table.sk,
			},
			Limit: aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return err
		}

		// BatchWriteItem accepts at most 25 requests
		for i := 0; i < len(result.Items); i += 25 {
			end := i + 25
			if end > len(result.Items) {
				end = len(result.Items)
			}

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{
						Key: map[string]dbtypes.AttributeValue{
							table.pk: item[table.pk],
							table.sk: item[table.sk],
						},
					},
				})
			}

			_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					table.name: requests,
				},
			})
			if err != nil {
				return err
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	s.logger.Info().Str("table", table.name).Msg("table truncated")
	return nil
}
