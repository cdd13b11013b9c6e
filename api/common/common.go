// Package common 定义所有 HTTP 接口共用的响应信封。
package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应信封。Data 为空时整个字段省略，
// 客户端只看 status 判断成败。
type Response struct {
	Status string      `json:"status"`
	Msg    string      `json:"msg"`
	Data   interface{} `json:"data,omitempty"`
}

func respond(c *gin.Context, httpStatus int, status string, message string, data interface{}) {
	c.JSON(httpStatus, Response{
		Status: status,
		Msg:    message,
		Data:   data,
	})
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, "success", "", data)
}

// RespondSuccessMessage 返回带提示文案的成功响应
func RespondSuccessMessage(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusOK, "success", message, data)
}

// RespondError 返回错误响应
func RespondError(c *gin.Context, httpStatus int, message string) {
	respond(c, httpStatus, "error", message, nil)
}

// RespondErrorAbort 返回错误响应并中断后续 handler
func RespondErrorAbort(c *gin.Context, httpStatus int, message string) {
	RespondError(c, httpStatus, message)
	c.Abort()
}
