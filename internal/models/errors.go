package models

import "errors"

var (
	// ErrNoProcessedData 预处理后没有可用数据
	ErrNoProcessedData = errors.New("no processed data")

	// ErrInvalidInput 输入文件格式无效
	ErrInvalidInput = errors.New("invalid input document")
)
