package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lk2023060901/file-service/internal/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`              // 业务错误码（0表示成功）
	Message string      `json:"message,omitempty"` // 提示信息
	Data    interface{} `json:"data"`              // 实际数据（可能为空对象 {}）
}

// PageData 分页数据
type PageData struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

func orEmpty(data interface{}) interface{} {
	if data == nil {
		return struct{}{}
	}
	return data
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: apperrors.Success,
		Data: orEmpty(data),
	})
}

// SuccessWithMessage 带消息的成功响应（200）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    apperrors.Success,
		Message: message,
		Data:    orEmpty(data),
	})
}

// Created 创建资源成功（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: apperrors.Success,
		Data: orEmpty(data),
	})
}

// Page 分页响应（200）
func Page(c *gin.Context, page PageData) {
	Success(c, page)
}

// Error 错误响应
func Error(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, Response{
		Code:    httpStatus,
		Message: message,
		Data:    struct{}{},
	})
}

// BadRequest 400 错误
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, apperrors.ErrBadRequest, message)
}

// NotFound 404 错误
func NotFound(c *gin.Context, message string) {
	ErrorWithCode(c, apperrors.ErrNotFound, message)
}

// InternalError 500 错误
func InternalError(c *gin.Context, message string) {
	ErrorWithCode(c, apperrors.ErrInternalServer, message)
}

// HandleError 统一错误处理（使用AppError）
func HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	_ = c.Error(err)

	code := apperrors.ExtractCode(err)
	httpStatus := apperrors.GetHTTPStatus(code)
	message := apperrors.FormatError(code, apperrors.GetDetails(err))

	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    struct{}{},
	})
}

// ErrorWithCode 使用错误码的错误响应
func ErrorWithCode(c *gin.Context, code int, details ...string) {
	httpStatus := apperrors.GetHTTPStatus(code)
	message := apperrors.FormatError(code, details...)

	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    struct{}{},
	})
}
