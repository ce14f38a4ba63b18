package jobqueue

import (
	"errors"
	"sync"

	"github.com/sqids/sqids-go"
)

var (
	sq   *sqids.Sqids
	once sync.Once
)

func getSqids() *sqids.Sqids {
	once.Do(func() {
		var err error
		sq, err = sqids.New(sqids.Options{
			Alphabet:  "Xq2wN8eR4tY6uI0oP3aS5dF7gH9jK1lZxCcVvBbMmnQWETyUiOpLkJhGfDsAzr",
			MinLength: 8,
		})
		if err != nil {
			panic("sqids init failed: " + err.Error())
		}
	})
	return sq
}

// EncodeRunID 对外暴露的 run id 不直接泄露自增序号。
func EncodeRunID(id int64) string {
	s, err := getSqids().Encode([]uint64{uint64(id)})
	if err != nil {
		return ""
	}
	return s
}

func DecodeRunID(s string) (int64, error) {
	nums := getSqids().Decode(s)
	if len(nums) != 1 || nums[0] == 0 {
		return 0, errors.New("invalid run id")
	}
	id := int64(nums[0])
	// sqids 的 decode 对非规范输入也可能返回数字，回编一次确认
	if EncodeRunID(id) != s {
		return 0, errors.New("invalid run id")
	}
	return id, nil
}
