package generation

import (
	"context"
	"testing"

	"github.com/phrazzld/lexigen/internal/dispatch"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatcherFunc func(ctx context.Context, req provider.Request) (*dispatch.Result, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, req provider.Request) (*dispatch.Result, error) {
	return f(ctx, req)
}

func TestRequestFor(t *testing.T) {
	t.Parallel()

	params := domain.GenerationParams{SourceLang: "es", TargetLang: "en", Level: "B1", Kind: domain.KindStory}

	req, err := RequestFor(params, " gato ")
	require.NoError(t, err)
	assert.Equal(t, []string{"gato"}, req.Items)
	assert.Empty(t, req.Text)
	assert.Equal(t, "B1", req.Level)

	params.Kind = ""
	req, err = RequestFor(params, "hola")
	require.NoError(t, err)
	assert.Equal(t, domain.KindTranslation, req.Kind)
	assert.Equal(t, "hola", req.Text)

	_, err = RequestFor(params, "  ")
	assert.ErrorIs(t, err, ErrInvalidItem)

	params.SourceLang = ""
	_, err = RequestFor(params, "hola")
	assert.ErrorIs(t, err, ErrInvalidItem)
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestDispatchGenerator(t *testing.T) {
	t.Parallel()

	job := &domain.GenerationJob{Params: domain.GenerationParams{
		SourceLang: "es", TargetLang: "en", Kind: domain.KindCloze,
	}}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		g := NewDispatchGenerator(dispatcherFunc(func(_ context.Context, req provider.Request) (*dispatch.Result, error) {
			assert.Equal(t, []string{"perro"}, req.Items)
			return &dispatch.Result{Content: []byte(`{"exercises":[]}`), Provider: "gemini"}, nil
		}))
		content, name, err := g.GenerateItem(context.Background(), job, "perro")
		require.NoError(t, err)
		assert.Equal(t, "gemini", name)
		assert.JSONEq(t, `{"exercises":[]}`, string(content))
	})

	t.Run("cached", func(t *testing.T) {
		t.Parallel()
		g := NewDispatchGenerator(dispatcherFunc(func(context.Context, provider.Request) (*dispatch.Result, error) {
			return &dispatch.Result{Content: []byte(`{}`), Cached: true}, nil
		}))
		_, name, err := g.GenerateItem(context.Background(), job, "perro")
		require.NoError(t, err)
		assert.Equal(t, "cache", name)
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()
		exhausted := &dispatch.AllProvidersExhaustedError{}
		g := NewDispatchGenerator(dispatcherFunc(func(context.Context, provider.Request) (*dispatch.Result, error) {
			return nil, exhausted
		}))
		_, _, err := g.GenerateItem(context.Background(), job, "perro")
		assert.ErrorIs(t, err, ErrGenerationFailed)
		assert.ErrorIs(t, err, dispatch.ErrAllProvidersExhausted)
	})
}
