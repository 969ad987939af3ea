package service

import (
	"time"

	"github.com/lk2023060901/file-service/internal/artifact/biz"
	apperrors "github.com/lk2023060901/file-service/internal/pkg/errors"
	"github.com/lk2023060901/file-service/internal/pkg/response"
)

// ArtifactResponse 制品响应。ID 以字符串输出，避免 JS 客户端丢失精度。
type ArtifactResponse struct {
	ID         int64     `json:"id,string"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	FileSize   int64     `json:"file_size"`
	Status     string    `json:"status"`
	UploadDate time.Time `json:"upload_date"`
}

func toArtifactResponse(a *biz.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:         a.ID,
		FileName:   a.DisplayName,
		FilePath:   a.StoragePath,
		FileSize:   a.SizeBytes,
		Status:     a.Status.String(),
		UploadDate: a.UploadedAt,
	}
}

func toArtifactResponses(as []*biz.Artifact) []ArtifactResponse {
	out := make([]ArtifactResponse, 0, len(as))
	for _, a := range as {
		out = append(out, toArtifactResponse(a))
	}
	return out
}

func toPageData(p *biz.Page) response.PageData {
	return response.PageData{
		Items:      toArtifactResponses(p.Items),
		Total:      p.Total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: p.TotalPages,
	}
}

// UploadFailureResponse 单个文件上传失败原因
type UploadFailureResponse struct {
	FileName string `json:"file_name"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
}

// BatchUploadResponse 批量上传响应
type BatchUploadResponse struct {
	Artifacts []ArtifactResponse      `json:"artifacts"`
	Failures  []UploadFailureResponse `json:"failures"`
}

func toBatchUploadResponse(res *biz.UploadManyResult) BatchUploadResponse {
	out := BatchUploadResponse{
		Artifacts: toArtifactResponses(res.Artifacts),
		Failures:  make([]UploadFailureResponse, 0, len(res.Failures)),
	}
	for _, f := range res.Failures {
		code := apperrors.ExtractCode(f.Err)
		out.Failures = append(out.Failures, UploadFailureResponse{
			FileName: f.Name,
			Code:     code,
			Message:  apperrors.FormatError(code, apperrors.GetDetails(f.Err)),
		})
	}
	return out
}

// ListRequest 分页查询参数
type ListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Filter   string `form:"filename_filter"`
}

// BatchDeleteRequest 批量删除请求，id 使用字符串
type BatchDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// legacyResult 旧前端使用的上传返回结构
type legacyResult struct {
	Message string      `json:"message"`
	Files   interface{} `json:"files"`
}
