package id_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbis-ilm/sensbee/internal/id"
)

func TestNew_Valid(t *testing.T) {
	got := id.New()
	assert.True(t, id.Valid(got))
}

func TestNew_Unique(t *testing.T) {
	assert.NotEqual(t, id.New(), id.New())
}

func TestValid_Rejects(t *testing.T) {
	assert.False(t, id.Valid("not-a-uuid"))
	assert.False(t, id.Valid(""))
}

func TestToken_Length(t *testing.T) {
	assert.Len(t, id.Token(), 48)
}

func TestToken_Unique(t *testing.T) {
	assert.NotEqual(t, id.Token(), id.Token())
}
