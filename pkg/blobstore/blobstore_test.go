package blobstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loglinehq/ubl/pkg/blobstore"
)

func TestOpenDisabledWhenKindEmpty(t *testing.T) {
	store, err := blobstore.Open(context.Background(), "", "bucket")
	assert.NoError(t, err)
	assert.Nil(t, store)
}

func TestOpenUnknownBackend(t *testing.T) {
	store, err := blobstore.Open(context.Background(), "azure", "bucket")
	assert.Error(t, err)
	assert.Nil(t, store)
}
