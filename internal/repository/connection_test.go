package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectMongoDB_InvalidURI(t *testing.T) {
	_, err := ConnectMongoDB(context.Background(), "postgres://localhost:5432", "testdb")
	assert.Error(t, err)
}

func TestConnectMongoDB_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	_, err := ConnectMongoDB(ctx, "mongodb://127.0.0.1:1/?connectTimeoutMS=200", "testdb")

	assert.ErrorContains(t, err, "mongo ping")
	assert.Less(t, time.Since(start), 3*time.Second)
}
