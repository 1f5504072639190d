package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendStep(step string) Func[[]string] {
	return func(_ context.Context, v []string) ([]string, error) {
		return append(v, step), nil
	}
}

func TestFilter_OrdersByPriorityThenRegistration(t *testing.T) {
	f := NewFilter[[]string]("test")
	f.Add("late", 20, appendStep("late"))
	f.Add("first-10", DefaultPriority, appendStep("first-10"))
	f.Add("early", 5, appendStep("early"))
	f.Add("second-10", DefaultPriority, appendStep("second-10"))

	out, err := f.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "first-10", "second-10", "late"}, out)
	assert.Equal(t, []string{"early", "first-10", "second-10", "late"}, f.Names())
	assert.Equal(t, 4, f.Len())
}

func TestFilter_ErrorStopsDispatch(t *testing.T) {
	f := NewFilter[[]string]("test")
	f.Add("a", 1, appendStep("a"))
	f.Add("boom", 2, func(_ context.Context, v []string) ([]string, error) {
		return v, errors.New("boom")
	})
	f.Add("c", 3, appendStep("c"))

	out, err := f.Apply(context.Background(), nil)
	require.ErrorContains(t, err, "test/boom: boom")
	assert.Equal(t, []string{"a"}, out)
}

func TestFilter_EmptyChainReturnsInput(t *testing.T) {
	f := NewFilter[SubscriptionQuery](IsSubscription)
	out, err := f.Apply(context.Background(), SubscriptionQuery{Is: true, ProductID: 7})
	require.NoError(t, err)
	assert.True(t, out.Is)
	assert.Equal(t, IsSubscription, f.Event())
}

func TestRegistry_Ajax(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Ajax("missing")
	assert.False(t, ok)

	called := false
	r.HandleAjax("action", func(context.Context, *AjaxRequest) error {
		called = true
		return nil
	})
	fn, ok := r.Ajax("action")
	require.True(t, ok)
	require.NoError(t, fn(context.Background(), &AjaxRequest{}))
	assert.True(t, called)
}
