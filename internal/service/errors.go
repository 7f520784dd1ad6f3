package service

import "errors"

var (
	// ErrNoActivity 该周没有选中的贡献
	ErrNoActivity = errors.New("本周没有选中的贡献")
	// ErrMissingCredential 仓库没有可用凭证
	ErrMissingCredential = errors.New("仓库缺少访问凭证")
	// ErrAcquireTimeout 等待并发许可超时
	ErrAcquireTimeout = errors.New("获取并发许可超时")
	// ErrBackfillRunning 已有回填在运行
	ErrBackfillRunning = errors.New("回填正在进行中")
	// ErrSummaryNotFound 周报不存在
	ErrSummaryNotFound = errors.New("周报不存在")
)
