package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"codechat/internal/domain"
)

// Single-table layout:
//
//	SESSION#<id> / META#                 session record (lookup by id)
//	SESSION#<id> / MSG#<ts>#<msgID>      messages, sort key orders by time
//	USER#<uid>   / SESSION#<id>          per-user session index with last message preview
//	COUNTER#     / SESSION# | MESSAGE#   id sequences
const (
	pkPrefixSession = "SESSION#"
	pkPrefixUser    = "USER#"
	pkCounter       = "COUNTER#"
	skMeta          = "META#"
	skPrefixMsg     = "MSG#"
	skPrefixSession = "SESSION#"
	counterSessions = "SESSION#"
	counterMessages = "MESSAGE#"

	// Fixed width so lexical order of sort keys equals chronological order.
	sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoDB stores sessions and messages in one DynamoDB table.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoDB creates a DynamoDB-backed Store.
func NewDynamoDB(api dynamodbAPI, tableName string) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoDB{
		api:       api,
		tableName: tableName,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func sessionPK(id int64) string {
	return pkPrefixSession + strconv.FormatInt(id, 10)
}

func userPK(userID int64) string {
	return pkPrefixUser + strconv.FormatInt(userID, 10)
}

func userSessionSK(id int64) string {
	return skPrefixSession + fmt.Sprintf("%020d", id)
}

func msgSK(ts time.Time, id int64) string {
	return skPrefixMsg + ts.UTC().Format(sortTimeLayout) + "#" + fmt.Sprintf("%020d", id)
}

func (d *DynamoDB) CreateSession(ctx context.Context, userID int64, title string, metadata map[string]any) (domain.ChatSession, error) {
	id, err := d.nextID(ctx, counterSessions)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: CreateSession: %w", err)
	}
	now := d.now()
	s := domain.ChatSession{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  cloneMetadata(metadata),
	}

	meta, err := sessionItem(s, sessionPK(id), skMeta)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: CreateSession: %w", err)
	}
	index, err := sessionItem(s, userPK(userID), userSessionSK(id))
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: CreateSession: %w", err)
	}

	_, err = d.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(d.tableName),
				Item:                meta,
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(d.tableName),
				Item:                index,
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			}},
		},
	})
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: CreateSession: %w", err)
	}
	return s, nil
}

func (d *DynamoDB) GetSession(ctx context.Context, id int64) (domain.ChatSession, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ChatSession{}, ErrSessionNotFound
	}
	s, err := itemToSession(out.Item)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	return s, nil
}

func (d *DynamoDB) ListSessions(ctx context.Context, userID int64) ([]domain.SessionSummary, error) {
	items, err := d.queryAll(ctx, userPK(userID), skPrefixSession)
	if err != nil {
		return nil, fmt.Errorf("repository: ListSessions query: %w", err)
	}

	out := make([]domain.SessionSummary, 0, len(items))
	for _, item := range items {
		s, err := itemToSession(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSessions unmarshal: %w", err)
		}
		summary := domain.SessionSummary{Session: s}
		if raw, err := strAttr(item, "lastMessage"); err == nil && raw != "" {
			var last domain.ChatMessage
			if err := json.Unmarshal([]byte(raw), &last); err != nil {
				return nil, fmt.Errorf("repository: ListSessions decode last message: %w", err)
			}
			summary.LastMessage = &last
		}
		out = append(out, summary)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Session, out[j].Session
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (d *DynamoDB) AppendMessage(ctx context.Context, in NewMessage) (domain.ChatMessage, error) {
	if err := validateNewMessage(in); err != nil {
		return domain.ChatMessage{}, err
	}
	id, err := d.nextID(ctx, counterMessages)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	msg := domain.ChatMessage{
		ID:          id,
		SessionID:   in.SessionID,
		UserID:      in.UserID,
		Sender:      in.Sender,
		Content:     in.Content,
		ContentHTML: in.ContentHTML,
		Timestamp:   d.now(),
		Metadata:    cloneMetadata(in.Metadata),
	}

	item, err := messageItem(msg)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	preview, err := json.Marshal(msg)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("repository: AppendMessage encode preview: %w", err)
	}
	updatedAt := &types.AttributeValueMemberS{Value: msg.Timestamp.Format(time.RFC3339Nano)}

	_, err = d.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(d.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			}},
			{Update: &types.Update{
				TableName: aws.String(d.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: sessionPK(msg.SessionID)},
					"SK": &types.AttributeValueMemberS{Value: skMeta},
				},
				UpdateExpression:          aws.String("SET updatedAt = :ts"),
				ConditionExpression:       aws.String("attribute_exists(PK)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":ts": updatedAt},
			}},
			{Update: &types.Update{
				TableName: aws.String(d.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: userPK(msg.UserID)},
					"SK": &types.AttributeValueMemberS{Value: userSessionSK(msg.SessionID)},
				},
				UpdateExpression: aws.String("SET updatedAt = :ts, lastMessage = :lm"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":ts": updatedAt,
					":lm": &types.AttributeValueMemberS{Value: string(preview)},
				},
			}},
		},
	})
	if err != nil {
		if sessionConditionFailed(err) {
			return domain.ChatMessage{}, ErrSessionNotFound
		}
		return domain.ChatMessage{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return msg, nil
}

func (d *DynamoDB) ListMessages(ctx context.Context, sessionID int64) ([]domain.ChatMessage, error) {
	items, err := d.queryAll(ctx, sessionPK(sessionID), skPrefixMsg)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// queryAll pages through every item under pk whose sort key has prefix,
// in ascending sort key order.
func (d *DynamoDB) queryAll(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	var (
		items    []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := d.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (d *DynamoDB) nextID(ctx context.Context, counter string) (int64, error) {
	out, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkCounter},
			"SK": &types.AttributeValueMemberS{Value: counter},
		},
		UpdateExpression:          aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("next id %s: %w", counter, err)
	}
	if out == nil {
		return 0, fmt.Errorf("next id %s: empty response", counter)
	}
	return int64Attr(out.Attributes, "seq")
}

// sessionConditionFailed reports whether the session META# existence check
// (second transact item) rejected the write.
func sessionConditionFailed(err error) bool {
	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false
	}
	reasons := canceled.CancellationReasons
	return len(reasons) > 1 && aws.ToString(reasons[1].Code) == "ConditionalCheckFailed"
}

func sessionItem(s domain.ChatSession, pk, sk string) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pk},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"sessionId": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ID, 10)},
		"userId":    &types.AttributeValueMemberN{Value: strconv.FormatInt(s.UserID, 10)},
		"title":     &types.AttributeValueMemberS{Value: s.Title},
		"createdAt": &types.AttributeValueMemberS{Value: s.CreatedAt.Format(time.RFC3339Nano)},
		"updatedAt": &types.AttributeValueMemberS{Value: s.UpdatedAt.Format(time.RFC3339Nano)},
	}
	if err := putMetadata(item, s.Metadata); err != nil {
		return nil, err
	}
	return item, nil
}

func messageItem(msg domain.ChatMessage) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(msg.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(msg.Timestamp, msg.ID)},
		"messageId": &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.ID, 10)},
		"sessionId": &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.SessionID, 10)},
		"userId":    &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.UserID, 10)},
		"sender":    &types.AttributeValueMemberS{Value: string(msg.Sender)},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
		"timestamp": &types.AttributeValueMemberS{Value: msg.Timestamp.Format(time.RFC3339Nano)},
	}
	if msg.ContentHTML != nil {
		item["contentHtml"] = &types.AttributeValueMemberS{Value: *msg.ContentHTML}
	}
	if err := putMetadata(item, msg.Metadata); err != nil {
		return nil, err
	}
	return item, nil
}

func putMetadata(item map[string]types.AttributeValue, metadata map[string]any) error {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	item["metadata"] = &types.AttributeValueMemberS{Value: string(raw)}
	return nil
}

func metadataAttr(item map[string]types.AttributeValue) (map[string]any, error) {
	raw, err := strAttr(item, "metadata")
	if err != nil || raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("repository: decode metadata: %w", err)
	}
	return m, nil
}

func itemToSession(item map[string]types.AttributeValue) (domain.ChatSession, error) {
	id, err := int64Attr(item, "sessionId")
	if err != nil {
		return domain.ChatSession{}, err
	}
	userID, err := int64Attr(item, "userId")
	if err != nil {
		return domain.ChatSession{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ChatSession{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.ChatSession{}, err
	}
	metadata, err := metadataAttr(item)
	if err != nil {
		return domain.ChatSession{}, err
	}
	return domain.ChatSession{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Metadata:  metadata,
	}, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.ChatMessage, error) {
	id, err := int64Attr(item, "messageId")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	sessionID, err := int64Attr(item, "sessionId")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	userID, err := int64Attr(item, "userId")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	content, _ := strAttr(item, "content") // allow empty
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	metadata, err := metadataAttr(item)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	msg := domain.ChatMessage{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Sender:    domain.Sender(sender),
		Content:   content,
		Timestamp: ts,
		Metadata:  metadata,
	}
	if html, err := strAttr(item, "contentHtml"); err == nil {
		msg.ContentHTML = &html
	}
	return msg, nil
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}

var _ Store = (*DynamoDB)(nil)
