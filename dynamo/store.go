// Package dynamo stores balances and transfer records in one DynamoDB table.
//
// Transfers are optimistic: reads remember the balance they saw, writes are
// staged, and the unit commits with a single TransactWriteItems whose balance
// updates only apply if the balance is still the one that was read. A unit
// that loses that race is evaluated again from fresh reads.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/models"
)

const (
	// DefaultTableName is used when no table is configured
	DefaultTableName = "LedgerAccounts"

	accountPrefix     = "ACCOUNT#"
	transactionPrefix = "TXN#"

	setBalance         = "SET balance = :balance"
	condBalanceMatches = "balance = :expected"
	condExists         = "attribute_exists(PK)"
	condNotExists      = "attribute_not_exists(PK)"

	defaultMaxRetries = 5
)

var errConflict = errors.New("account changed during transfer")

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type Store struct {
	api        API
	table      string
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewStore(api API, table string) *Store {
	if table == "" {
		table = DefaultTableName
	}
	return &Store{
		api:        api,
		table:      table,
		maxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return b
		},
	}
}

func accountKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{partitionKey: &types.AttributeValueMemberS{Value: accountPrefix + id}}
}

func transactionKey(id string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: transactionPrefix + id}
}

func number(d decimal.Decimal) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: d.StringFixed(ledger.Scale)}
}

func transactionItem(txn models.Transaction) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		partitionKey: transactionKey(txn.ID),
		"from":       &types.AttributeValueMemberS{Value: txn.FromAccountID},
		"to":         &types.AttributeValueMemberS{Value: txn.ToAccountID},
		"amount":     number(txn.Amount),
		"created_at": &types.AttributeValueMemberS{Value: txn.CreatedAt.Format(time.RFC3339Nano)},
	}
}

func parseBalance(item map[string]types.AttributeValue) (decimal.Decimal, error) {
	n, ok := item["balance"].(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Decimal{}, errors.New("balance attribute missing or not a number")
	}
	return decimal.NewFromString(n.Value)
}

type unitKey struct{}

// unit collects what one transfer attempt read and wants to write.
type unit struct {
	observed map[string]decimal.Decimal
	staged   map[string]decimal.Decimal
	order    []string
	txns     []models.Transaction
}

func unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

// PutAccount creates or overwrites an account item.
func (s *Store) PutAccount(ctx context.Context, acc models.Account) error {
	item := accountKey(acc.ID)
	item["balance"] = number(acc.Balance)
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return ledger.Unavailable("put account", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (models.Account, error) {
	u := unitFrom(ctx)
	if u != nil {
		if balance, ok := u.staged[id]; ok {
			return models.Account{ID: id, Balance: balance}, nil
		}
	}

	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            accountKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Account{}, ctxErr
		}
		return models.Account{}, ledger.Unavailable("get account", err)
	}
	if len(out.Item) == 0 {
		return models.Account{}, ledger.NotFound(id)
	}
	balance, err := parseBalance(out.Item)
	if err != nil {
		return models.Account{}, ledger.Unavailable("decode account", err)
	}

	if u != nil {
		if _, seen := u.observed[id]; !seen {
			u.observed[id] = balance
		}
	}
	return models.Account{ID: id, Balance: balance}, nil
}

func (s *Store) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if u := unitFrom(ctx); u != nil {
		if _, ok := u.staged[id]; !ok {
			u.order = append(u.order, id)
		}
		u.staged[id] = balance
		return nil
	}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       accountKey(id),
		UpdateExpression:          aws.String(setBalance),
		ConditionExpression:       aws.String(condExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{":balance": number(balance)},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ledger.NotFound(id)
	}
	if err != nil {
		return ledger.Unavailable("set balance", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, txn models.Transaction) error {
	if u := unitFrom(ctx); u != nil {
		u.txns = append(u.txns, txn)
		return nil
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                transactionItem(txn),
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		return ledger.Unavailable("append transaction", err)
	}
	return nil
}

// WithinTransfer evaluates fn and commits its writes in one TransactWriteItems.
// Only a lost compare-and-swap leads to another evaluation; errors from fn are final.
func (s *Store) WithinTransfer(ctx context.Context, _ []string, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		u := &unit{
			observed: make(map[string]decimal.Decimal),
			staged:   make(map[string]decimal.Decimal),
		}
		if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
			return backoff.Permanent(err)
		}

		err := s.commit(context.WithoutCancel(ctx), u)
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			log.Printf("[Ledger] transfer attempt %d lost a concurrent update: %v", attempt, err)
			return errConflict
		}
		if err != nil {
			return backoff.Permanent(ledger.Unavailable("commit transfer", err))
		}
		return nil
	}, policy)

	if errors.Is(err, errConflict) {
		return ledger.Unavailable("commit transfer", fmt.Errorf("%w after %d attempts", errConflict, attempt))
	}
	return err
}

func (s *Store) commit(ctx context.Context, u *unit) error {
	var items []types.TransactWriteItem
	for _, id := range u.order {
		update := &types.Update{
			TableName:                 aws.String(s.table),
			Key:                       accountKey(id),
			UpdateExpression:          aws.String(setBalance),
			ExpressionAttributeValues: map[string]types.AttributeValue{":balance": number(u.staged[id])},
		}
		if expected, ok := u.observed[id]; ok {
			update.ConditionExpression = aws.String(condBalanceMatches)
			update.ExpressionAttributeValues[":expected"] = number(expected)
		} else {
			update.ConditionExpression = aws.String(condExists)
		}
		items = append(items, types.TransactWriteItem{Update: update})
	}
	for _, txn := range u.txns {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(s.table),
			Item:                transactionItem(txn),
			ConditionExpression: aws.String(condNotExists),
		}})
	}
	if len(items) == 0 {
		return nil
	}

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return err
}
