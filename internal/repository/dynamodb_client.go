package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"drax-assistant/internal/domain"
)

const (
	skPrefixMsg       = "MSG#"
	skMeta            = "META#"
	maxAppendAttempts = 3
)

// DynamoDBAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ErrConcurrentAppend is returned when another writer kept winning the
// sequence counter race for the same session.
var ErrConcurrentAppend = errors.New("repository: concurrent append conflict")

// DynamoStore keeps session history in a single DynamoDB table. Each session
// owns one partition: a META# item carrying the last sequence number and one
// MSG#<seq> item per message. Appends write the messages and the advanced
// counter in one transaction guarded by the previous counter value.
type DynamoStore struct {
	api       DynamoDBAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// DynamoOption configures a DynamoStore.
type DynamoOption func(*DynamoStore)

// WithTTL stamps items with a ttl attribute d in the future. Zero disables it.
func WithTTL(d time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		s.ttl = d
	}
}

// NewDynamoStore creates a DynamoStore over tableName.
func NewDynamoStore(api DynamoDBAPI, tableName string, opts ...DynamoOption) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &DynamoStore{api: api, tableName: tableName, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// sessionPK returns the partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK returns the sort key for a message. Zero padding keeps lexical and
// numeric order identical.
func msgSK(seq int64) string {
	return fmt.Sprintf("%s%019d", skPrefixMsg, seq)
}

// Append persists a single message.
func (s *DynamoStore) Append(ctx context.Context, sessionID string, msg domain.Message) error {
	if err := s.appendMessages(ctx, sessionID, msg); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// AppendPair persists request then response in one transaction.
func (s *DynamoStore) AppendPair(ctx context.Context, sessionID string, request, response domain.Message) error {
	if err := s.appendMessages(ctx, sessionID, request, response); err != nil {
		return fmt.Errorf("repository: AppendPair: %w", err)
	}
	return nil
}

func (s *DynamoStore) appendMessages(ctx context.Context, sessionID string, msgs ...domain.Message) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	if err := validateRoles(msgs); err != nil {
		return err
	}
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		prev, err := s.lastSeq(ctx, sessionID)
		if err != nil {
			return err
		}
		err = s.writeMessages(ctx, sessionID, prev, msgs)
		if err == nil {
			return nil
		}
		var canceled *types.TransactionCanceledException
		if !errors.As(err, &canceled) {
			return err
		}
	}
	return ErrConcurrentAppend
}

func (s *DynamoStore) writeMessages(ctx context.Context, sessionID string, prev int64, msgs []domain.Message) error {
	now := s.now().UTC()
	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	for i, m := range msgs {
		m.Seq = prev + int64(i) + 1
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                s.messageItem(sessionID, m),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	metaPut := &types.Put{
		TableName: aws.String(s.tableName),
		Item:      s.metaItem(sessionID, prev+int64(len(msgs)), now),
	}
	if prev == 0 {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		metaPut.ConditionExpression = aws.String("seq = :prev")
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(prev, 10)},
		}
	}
	items = append(items, types.TransactWriteItem{Put: metaPut})

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}

// lastSeq returns the sequence number of the newest message, 0 for an
// unseen session. TTL may expire META# before older MSG# items, so a missing
// counter falls back to the newest message still stored.
func (s *DynamoStore) lastSeq(ctx context.Context, sessionID string) (int64, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return s.newestMessageSeq(ctx, sessionID)
	}
	seq, err := intAttr(out.Item, "seq")
	if err != nil {
		return 0, fmt.Errorf("decode seq: %w", err)
	}
	return seq, nil
}

func (s *DynamoStore) newestMessageSeq(ctx context.Context, sessionID string) (int64, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("query newest message: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return 0, nil
	}
	seq, err := intAttr(out.Items[0], "seq")
	if err != nil {
		return 0, fmt.Errorf("decode newest message seq: %w", err)
	}
	return seq, nil
}

// GetHistory returns every message of a session in sequence order.
func (s *DynamoStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	msgs := []domain.Message{}
	paginator := dynamodb.NewQueryPaginator(s.api, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory query: %w", err)
		}
		for _, item := range page.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (s *DynamoStore) messageItem(sessionID string, m domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(m.Seq)},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"role":      &types.AttributeValueMemberS{Value: string(m.Role)},
		"content":   &types.AttributeValueMemberS{Value: m.Content},
		"timestamp": &types.AttributeValueMemberS{Value: m.Timestamp.UTC().Format(time.RFC3339Nano)},
		"seq":       &types.AttributeValueMemberN{Value: strconv.FormatInt(m.Seq, 10)},
	}
	if m.ProviderName != "" {
		item["providerName"] = &types.AttributeValueMemberS{Value: m.ProviderName}
	}
	s.stampTTL(item)
	return item
}

func (s *DynamoStore) metaItem(sessionID string, seq int64, now time.Time) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: sessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"seq":          &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)},
	}
	s.stampTTL(item)
	return item
}

func (s *DynamoStore) stampTTL(item map[string]types.AttributeValue) {
	if s.ttl <= 0 {
		return
	}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)}
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Message{}, err
	}
	rawTS, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: parse timestamp: %w", err)
	}
	if !domain.Role(role).Valid() {
		return domain.Message{}, fmt.Errorf("repository: unknown role %q", role)
	}
	providerName, _ := strAttr(item, "providerName") // absent for user messages

	return domain.Message{
		Role:         domain.Role(role),
		Content:      content,
		ProviderName: providerName,
		Timestamp:    ts,
		Seq:          seq,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
