package order_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oferrors "github.com/randalmurphal/orderflow/pkg/orderflow/errors"
	"github.com/randalmurphal/orderflow/pkg/orderflow/order"
)

func validPayload() order.Payload {
	return order.Payload{
		Items:        []order.Item{{Name: "burrito", Quantity: 2}},
		RestaurantID: "restaurant-1",
		UserID:       "user-1",
	}
}

func TestStage_Rank(t *testing.T) {
	lifecycle := []order.Stage{
		order.StagePlaced,
		order.StageRestaurantNotifying,
		order.StageRestaurantNotified,
		order.StageUserNotifying,
		order.StageComplete,
	}
	for i := 1; i < len(lifecycle); i++ {
		assert.Greater(t, lifecycle[i].Rank(), lifecycle[i-1].Rank(), "%s after %s", lifecycle[i], lifecycle[i-1])
	}
	assert.Equal(t, order.StageComplete.Rank(), order.StageFailed.Rank())
	assert.Zero(t, order.Stage("bogus").Rank())
}

func TestStage_Terminal(t *testing.T) {
	assert.True(t, order.StageComplete.Terminal())
	assert.True(t, order.StageFailed.Terminal())
	assert.False(t, order.StagePlaced.Terminal())
	assert.False(t, order.StageUserNotifying.Terminal())
	assert.True(t, order.StageUserNotifying.Valid())
	assert.False(t, order.Stage("").Valid())
}

func TestPayload_Validate(t *testing.T) {
	require.NoError(t, validPayload().Validate())

	err := order.Payload{Items: []order.Item{{Name: "taco", Quantity: -1}}}.Validate()
	require.Error(t, err)

	var verr *oferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "restaurantId")
	assert.Contains(t, err.Error(), "userId")
	assert.Contains(t, err.Error(), "negative quantity")
	assert.True(t, oferrors.IsPermanent(err))
}

func TestOrder_Advance(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	o := order.New("order-1", validPayload(), at)
	assert.Equal(t, order.StagePlaced, o.Stage)

	later := at.Add(time.Second)
	o.Advance(order.StageRestaurantNotifying, order.DetailOrderPlaced, later)

	assert.Equal(t, order.StageRestaurantNotifying, o.Stage)
	assert.Equal(t, later, o.UpdatedAt)
	require.Len(t, o.History, 1)
	assert.Equal(t, order.Transition{
		From:  order.StagePlaced,
		To:    order.StageRestaurantNotifying,
		Event: order.DetailOrderPlaced,
		At:    later,
	}, o.History[0])
}

func TestOrder_Clone(t *testing.T) {
	o := order.New("order-1", validPayload(), time.Now())
	o.Advance(order.StageRestaurantNotifying, "", time.Now())

	c := o.Clone()
	c.Payload.Items[0].Quantity = 99
	c.History[0].To = order.StageFailed

	assert.Equal(t, 2, o.Payload.Items[0].Quantity)
	assert.Equal(t, order.StageRestaurantNotifying, o.History[0].To)

	var nilOrder *order.Order
	assert.Nil(t, nilOrder.Clone())
}

func TestOrder_Detail(t *testing.T) {
	o := order.New("order-1", validPayload(), time.Now())
	detail := o.Detail()

	assert.Equal(t, "order-1", detail["orderId"])
	assert.Equal(t, "restaurant-1", detail["restaurantId"])
	assert.Equal(t, "user-1", detail["userId"])
	assert.Len(t, detail["items"], 1)
}
