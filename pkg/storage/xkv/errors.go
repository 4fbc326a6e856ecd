package xkv

import "errors"

var (
	// ErrNotFound key 不存在。
	ErrNotFound = errors.New("xkv: key not found")

	// ErrEmptyKey key 为空。
	ErrEmptyKey = errors.New("xkv: key must not be empty")

	// ErrEmptyMapName 映射名为空。
	ErrEmptyMapName = errors.New("xkv: map name must not be empty")

	// ErrNilClient 客户端为空。
	ErrNilClient = errors.New("xkv: client is nil")

	// ErrClosed 存储已关闭。
	ErrClosed = errors.New("xkv: store is closed")
)
