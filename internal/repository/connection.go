package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	appName     = "cartsubs"
	pingTimeout = 5 * time.Second
)

// ConnectMongoDB opens a client for uri and returns the named database once
// the primary answers a ping. The client is released when the ping fails.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	opts := options.Client().ApplyURI(uri).SetAppName(appName)
	// session writes are small and bursty; keep a warm pool
	opts.SetMinPoolSize(5).SetMaxPoolSize(50).SetMaxConnIdleTime(5 * time.Minute)
	opts.SetServerSelectionTimeout(pingTimeout)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("mongo options for %s: %w", database, err)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return client.Database(database), nil
}
