package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(client Client, opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithBatchPacer(NoopPacer()),
		WithRetryPacer(NoopPacer()),
		WithEngineLogger(quietLogger()),
	}
	return NewEngine(client, append(base, opts...)...)
}

// TestEngineOutcomeLength 测试结果数量总是与输入一致
func TestEngineOutcomeLength(t *testing.T) {
	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta"}

	for _, size := range []int{1, 2, 3, 7, 10} {
		t.Run(fmt.Sprintf("batch size %d", size), func(t *testing.T) {
			engine := newTestEngine(NewMockClient(), WithEngineBatchSize(size))
			outcomes := engine.EmbedAll(context.Background(), texts)

			require.Len(t, outcomes, len(texts))
			for i, o := range outcomes {
				require.NoError(t, o.Err)
				assert.Equal(t, mockVector(texts[i]), o.Vector)
			}
		})
	}

	engine := newTestEngine(NewMockClient())
	assert.Empty(t, engine.EmbedAll(context.Background(), nil))
}

// TestEngineSingleFailure 测试只有一条文本失败时结果恰好一个失败
func TestEngineSingleFailure(t *testing.T) {
	texts := []string{"a", "bb", "bad", "dddd", "eeeee"}
	client := NewMockClient("bad")
	retry := &countingPacer{}
	batch := &countingPacer{}

	engine := newTestEngine(client,
		WithEngineBatchSize(2),
		WithBatchPacer(batch),
		WithRetryPacer(retry),
	)
	outcomes := engine.EmbedAll(context.Background(), texts)

	require.Len(t, outcomes, len(texts))
	failed := 0
	for i, o := range outcomes {
		if o.Err != nil {
			failed++
			assert.Equal(t, "bad", texts[i])
			assert.ErrorIs(t, o.Err, errMockFailure)
			continue
		}
		assert.Equal(t, mockVector(texts[i]), o.Vector)
	}
	assert.Equal(t, 1, failed)

	// 三个批次各等待一次，失败批次中的两条逐条重试
	assert.Equal(t, 3, batch.Waits())
	assert.Equal(t, 2, retry.Waits())
	// 第一批2次，第二批1次失败加2次重试，第三批1次
	assert.Equal(t, 6, client.Calls())
}

// TestEngineRetryRecovers 测试临时失败在逐条重试后恢复
func TestEngineRetryRecovers(t *testing.T) {
	client := NewMockClient()
	client.flaky["flaky"] = 1

	engine := newTestEngine(client, WithEngineBatchSize(3))
	outcomes := engine.EmbedAll(context.Background(), []string{"one", "flaky", "three"})

	for i, o := range outcomes {
		require.NoError(t, o.Err, "item %d", i)
	}
	assert.Equal(t, 1.0, SuccessRate(outcomes))
}

// TestEngineEmptyText 测试空文本不发起调用
func TestEngineEmptyText(t *testing.T) {
	client := NewMockClient()
	engine := newTestEngine(client, WithEngineBatchSize(10))

	outcomes := engine.EmbedAll(context.Background(), []string{"hello", "", "   ", "world"})

	require.Len(t, outcomes, 4)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, ErrEmptyText)
	assert.ErrorIs(t, outcomes[2].Err, ErrEmptyText)
	assert.NoError(t, outcomes[3].Err)
	assert.Equal(t, 2, client.Calls())
}

// TestEngineParallelWorkers 测试并行批次不改变结果顺序
func TestEngineParallelWorkers(t *testing.T) {
	texts := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		texts = append(texts, fmt.Sprintf("text-%02d", i))
	}
	texts[17] = "broken"

	engine := newTestEngine(NewMockClient("broken"), WithEngineBatchSize(4), WithMaxWorkers(4))
	outcomes := engine.EmbedAll(context.Background(), texts)

	require.Len(t, outcomes, len(texts))
	for i, o := range outcomes {
		if i == 17 {
			assert.Error(t, o.Err)
			continue
		}
		require.NoError(t, o.Err)
		assert.Equal(t, mockVector(texts[i]), o.Vector)
	}
}

// TestEngineCancelled 测试上下文取消后全部标记失败
func TestEngineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewMockClient()
	engine := NewEngine(client, WithEngineLogger(quietLogger()))
	outcomes := engine.EmbedAll(ctx, []string{"a", "b", "c"})

	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
	assert.Equal(t, 0, client.Calls())
}

// TestOutcomeHelpers 测试结果辅助函数
func TestOutcomeHelpers(t *testing.T) {
	outcomes := []Outcome{
		{Vector: []float32{1, 2, 3}},
		{Err: errMockFailure},
		{Vector: []float32{}},
		{Vector: []float32{4, 5, 6}},
	}

	vectors := Vectors(outcomes)
	assert.Equal(t, [][]float32{{1, 2, 3}, {}, {}, {4, 5, 6}}, vectors)

	stats := Summarize(outcomes)
	assert.Equal(t, Stats{Total: 4, Succeeded: 2, Empty: 1, Failed: 1, Dimension: 3}, stats)
	assert.InDelta(t, 0.5, SuccessRate(outcomes), 1e-9)
	assert.Zero(t, SuccessRate(nil))
}

// TestSplitIntoBatches 测试批次划分
func TestSplitIntoBatches(t *testing.T) {
	assert.Equal(t, []batchRange{{0, 2}, {2, 4}, {4, 5}}, splitIntoBatches(5, 2))
	assert.Equal(t, []batchRange{{0, 1}, {1, 2}}, splitIntoBatches(2, 0))
	assert.Empty(t, splitIntoBatches(0, 3))
}
