package gee

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes 是 JSON 请求体上限，触发评估之类的请求远小于它。
const MaxBodyBytes = 1 << 20

var ErrEmptyBody = errors.New("empty body")

// ShouldBindJSON 严格解析：未知字段、多个 JSON 值、超过 MaxBodyBytes 都报错。
func (c *Context) ShouldBindJSON(dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Req.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("decode json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain only one JSON value")
	}
	return nil
}

// BindJSON 失败时直接回 400 并中止，调用方只需 return。
func (c *Context) BindJSON(dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithError(http.StatusBadRequest, "Invalid json")
		return err
	}
	return nil
}
