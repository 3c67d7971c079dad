package document

import (
	"errors"
	"strings"
	"testing"

	"github.com/fyerfyer/aven-ingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadPages 测试读取爬虫输出
func TestLoadPages(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		input := `[{"page_info":[
			{"url":"https://aven.com/support/faq","title":"FAQ","content":"Our cash back is 2%."},
			{"url":"https://aven.com/","title":"Aven","content":"Home"}
		]}]`

		pages, err := LoadPages(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, pages, 2)
		assert.Equal(t, "https://aven.com/support/faq", pages[0].URL)
		assert.Equal(t, "FAQ", pages[0].Title)
		assert.Equal(t, "Home", pages[1].Content)
	})

	t.Run("empty root array", func(t *testing.T) {
		pages, err := LoadPages(strings.NewReader(`[]`))
		require.NoError(t, err)
		assert.Empty(t, pages)
	})

	t.Run("missing page_info", func(t *testing.T) {
		_, err := LoadPages(strings.NewReader(`[{"pages":[]}]`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrInvalidInput))
	})

	t.Run("root is not an array", func(t *testing.T) {
		_, err := LoadPages(strings.NewReader(`{"page_info":[]}`))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := LoadPages(strings.NewReader(`[{"page_info":[`))
		assert.Error(t, err)
	})
}
