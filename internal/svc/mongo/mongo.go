package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const CollectionNameUsers = "users"

type Instance interface {
	Collection(name string) *mongo.Collection
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type mongoInst struct {
	client *mongo.Client
	db     *mongo.Database
}

type SetupOptions struct {
	URI      string
	DB       string
	Username string
	Password string
	Direct   bool
}

func Setup(ctx context.Context, opt SetupOptions) (Instance, error) {
	clientOptions := options.Client().
		ApplyURI(opt.URI).
		SetDirect(opt.Direct)

	if opt.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: opt.Username,
			Password: opt.Password,
		})
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	zap.S().Infow("mongo, ok",
		"db", opt.DB,
	)

	return &mongoInst{
		client: client,
		db:     client.Database(opt.DB),
	}, nil
}

func (i *mongoInst) Collection(name string) *mongo.Collection {
	return i.db.Collection(name)
}

func (i *mongoInst) Ping(ctx context.Context) error {
	return i.client.Ping(ctx, readpref.Primary())
}

func (i *mongoInst) Close(ctx context.Context) error {
	return i.client.Disconnect(ctx)
}
