// Command transfer-lambda runs the transfer engine as an AWS Lambda over DynamoDB.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/yashasviy/ledger-api/config"
	"github.com/yashasviy/ledger-api/dynamo"
	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/models"
)

// Response reports the outcome; business rejections are not Lambda errors.
type Response struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

var engine *ledger.Engine

func init() {
	ctx := context.Background()
	cfg, err := config.LoadLambda(ctx)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	client, err := dynamo.NewClient(ctx, dynamo.ClientConfig{Region: cfg.Region, Endpoint: cfg.Endpoint})
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	store := dynamo.NewStore(client, cfg.Table)
	engine = ledger.NewEngine(store, store, store)
}

func handler(ctx context.Context, evt json.RawMessage) (Response, error) {
	var req models.TransferRequest
	if err := json.Unmarshal(evt, &req); err != nil {
		return Response{}, err
	}

	err := engine.Transfer(ctx, req)
	if err == nil {
		return Response{Success: true}, nil
	}
	if !ledger.IsRejection(err) {
		return Response{}, err
	}

	resp := Response{Error: ledger.Kind(err), Message: err.Error()}
	var notFound *ledger.AccountNotFoundError
	if errors.As(err, &notFound) {
		resp.AccountID = notFound.AccountID
	}
	return resp, nil
}

func main() {
	lambda.Start(handler)
}
