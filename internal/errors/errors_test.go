package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	nf := NewNotFoundError("user", int64(7))
	wrapped := fmt.Errorf("lookup: %w", nf)

	assert.Same(t, nf, Categorize(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, http.StatusNotFound, GetHTTPStatusCode(wrapped))

	plain := stderrors.New("boom")
	cat := Categorize(plain)
	assert.Equal(t, CategorySystem, cat.Category)
	assert.ErrorIs(t, cat, plain)
	assert.Nil(t, Categorize(nil))
}

func TestDeliveryClassification(t *testing.T) {
	perm := NewPermanentDeliveryError(901, "blocked")
	trans := NewTransientDeliveryError(9, "flood", nil)
	unknown := NewUnknownDeliveryError(100, "odd")

	assert.True(t, IsPermanentDelivery(perm))
	assert.True(t, IsPermanentDelivery(fmt.Errorf("send: %w", perm)))
	assert.False(t, IsPermanentDelivery(trans))
	assert.False(t, IsPermanentDelivery(unknown))
	assert.False(t, IsPermanentDelivery(nil))

	assert.Equal(t, DeliveryTransient, DeliveryClassOf(trans))
	assert.Equal(t, DeliveryUnknown, DeliveryClassOf(stderrors.New("foreign")))
	assert.Contains(t, perm.Error(), "901")
}
