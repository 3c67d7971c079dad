package document

import (
	"fmt"
	"strings"
	"unicode"
)

// SplitMode 文本分段模式
type SplitMode string

const (
	// SplitSingle 整页作为一个分块
	SplitSingle SplitMode = "single"
	// SplitWindow 按固定字符窗口分块
	SplitWindow SplitMode = "window"
)

// SplitterConfig 分段器配置
// 末尾窗口并入后，最后一个分块可能超过MaxSize，超出部分不超过MinSize
type SplitterConfig struct {
	Mode    SplitMode // 分段模式
	MaxSize int       // 窗口最大字符数（按Unicode码点计）
	Overlap int       // 相邻窗口重叠的字符数
	MinSize int       // 末尾窗口小于该值时并入前一个分块
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		Mode:    SplitSingle,
		MaxSize: 1000,
		Overlap: 200,
		MinSize: 100,
	}
}

// TextSplitter 文本分段器
type TextSplitter struct {
	config SplitterConfig
}

// NewTextSplitter 创建新的文本分段器
func NewTextSplitter(config SplitterConfig) *TextSplitter {
	if config.Mode == "" {
		config.Mode = SplitSingle
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultSplitterConfig().MaxSize
	}
	if config.Overlap < 0 || config.Overlap >= config.MaxSize {
		config.Overlap = 0
	}
	if config.MinSize < 0 {
		config.MinSize = 0
	}
	return &TextSplitter{config: config}
}

// Split 将文本切分为有序分块
// 空文本返回零个分块，非空文本至少返回一个分块
func (s *TextSplitter) Split(text string) ([]string, error) {
	if text == "" {
		return []string{}, nil
	}

	switch s.config.Mode {
	case SplitSingle:
		return []string{text}, nil
	case SplitWindow:
		return s.splitByWindow(text), nil
	default:
		return nil, fmt.Errorf("unknown split mode: %s", s.config.Mode)
	}
}

// splitByWindow 按字符窗口切分，尽量在空白处断开
func (s *TextSplitter) splitByWindow(text string) []string {
	runes := []rune(text)
	n := len(runes)

	var chunks []string
	var starts []int

	for start := 0; start < n; {
		end := start + s.config.MaxSize
		if end > n {
			end = n
		}

		// 避免把单词截断，找不到空白时在原位置截断
		if end < n {
			cut := end
			for cut > start && !unicode.IsSpace(runes[cut]) {
				cut--
			}
			if cut > start {
				end = cut
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
			starts = append(starts, start)
		}

		if end == n {
			break
		}

		next := end - s.config.Overlap
		if next <= start {
			next = end
		}
		start = next
	}

	// 末尾过短的窗口并入前一个分块
	if len(chunks) > 1 && len([]rune(chunks[len(chunks)-1])) < s.config.MinSize {
		prev := len(chunks) - 2
		chunks[prev] = strings.TrimSpace(string(runes[starts[prev]:]))
		chunks = chunks[:prev+1]
	}

	if len(chunks) == 0 {
		// 全部为空白的文本仍保留一个分块
		chunks = append(chunks, text)
	}

	return chunks
}
