package service

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/file-service/internal/artifact/biz"
	"github.com/lk2023060901/file-service/internal/pkg/database"
	apperrors "github.com/lk2023060901/file-service/internal/pkg/errors"
	"github.com/lk2023060901/file-service/internal/pkg/response"
	"github.com/lk2023060901/file-service/internal/pkg/validator"
	"go.uber.org/zap"
)

type ArtifactService struct {
	uc      *biz.ArtifactUseCase
	maxSize int64
	logger  *zap.Logger
}

// NewArtifactService maxSize 限制每个文件读入内存的字节数，与用例的上限一致
func NewArtifactService(uc *biz.ArtifactUseCase, maxSize int64, logger *zap.Logger) *ArtifactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactService{
		uc:      uc,
		maxSize: maxSize,
		logger:  logger,
	}
}

// RegisterRoutes 注册 /artifacts 路由
func (s *ArtifactService) RegisterRoutes(r *gin.RouterGroup) {
	artifacts := r.Group("/artifacts")
	{
		artifacts.POST("", s.Upload)
		artifacts.POST("/batch", s.BatchUpload)
		artifacts.POST("/delete", s.BatchDelete)
		artifacts.GET("", s.List)
		artifacts.GET("/:id", s.Get)
		artifacts.DELETE("/:id", s.Delete)
		artifacts.GET("/download/:name", s.Download)
	}
}

// RegisterLegacyRoutes 兼容旧前端页面的路由
func (s *ArtifactService) RegisterLegacyRoutes(r gin.IRouter) {
	r.POST("/upload/", s.LegacyUpload)
	r.GET("/download/:name", s.LegacyDownload)
	r.GET("/files/", s.LegacyList)
}

// readFile 读取上传文件；多读一个字节，超限由用例判定
func (s *ArtifactService) readFile(header *multipart.FileHeader) (biz.UploadFile, error) {
	f, err := header.Open()
	if err != nil {
		return biz.UploadFile{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if s.maxSize > 0 {
		r = io.LimitReader(f, s.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return biz.UploadFile{}, err
	}
	return biz.UploadFile{Name: header.Filename, Data: data}, nil
}

func (s *ArtifactService) readFiles(c *gin.Context, field string) ([]biz.UploadFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, fmt.Errorf("no %q field in form", field)
	}
	return s.readAll(headers), nil
}

// readAll 读取失败的文件带上 ReadErr，由用例记为该文件的失败
func (s *ArtifactService) readAll(headers []*multipart.FileHeader) []biz.UploadFile {
	files := make([]biz.UploadFile, 0, len(headers))
	for _, h := range headers {
		file, err := s.readFile(h)
		if err != nil {
			s.logger.Warn("read upload failed", zap.String("name", h.Filename), zap.Error(err))
			file = biz.UploadFile{Name: h.Filename, ReadErr: err}
		}
		files = append(files, file)
	}
	return files
}

// Upload 单文件上传
func (s *ArtifactService) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "invalid file or field name is not 'file'")
		return
	}

	file, err := s.readFile(header)
	if err != nil {
		response.InternalError(c, "failed to read file")
		return
	}

	a, err := s.uc.Upload(c.Request.Context(), file)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Created(c, toArtifactResponse(a))
}

// BatchUpload 批量上传，部分失败时仍返回 200，失败原因在 failures 中
func (s *ArtifactService) BatchUpload(c *gin.Context) {
	files, err := s.readFiles(c, "files")
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := s.uc.UploadMany(c.Request.Context(), files)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, toBatchUploadResponse(res))
}

// List 分页查询
func (s *ArtifactService) List(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}

	pageNum, pageSize := database.NormalizePage(req.Page, req.PageSize)
	page, err := s.uc.List(c.Request.Context(), pageNum, pageSize, req.Filter)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Page(c, toPageData(page))
}

// Get 查询单个制品
func (s *ArtifactService) Get(c *gin.Context) {
	id, err := validator.ParseID(c.Param("id"))
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}

	a, err := s.uc.Get(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, toArtifactResponse(a))
}

// Delete 删除单个制品
func (s *ArtifactService) Delete(c *gin.Context) {
	id, err := validator.ParseID(c.Param("id"))
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}

	deleted, err := s.uc.Delete(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, gin.H{"deleted": deleted})
}

// BatchDelete 批量删除，返回实际删除数量
func (s *ArtifactService) BatchDelete(c *gin.Context) {
	var req BatchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}

	ids, err := validator.ParseIDs(req.IDs)
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}

	count := s.uc.DeleteByIDs(c.Request.Context(), ids)
	response.Success(c, gin.H{"deleted": count})
}

// Download 下载文件
func (s *ArtifactService) Download(c *gin.Context) {
	name := c.Param("name")

	a, data, err := s.uc.Download(c.Request.Context(), name)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	writeAttachment(c, a.DisplayName, data)
}

func writeAttachment(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(name))
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// LegacyUpload 旧前端批量上传：{message, files}
func (s *ArtifactService) LegacyUpload(c *gin.Context) {
	files, err := s.readFiles(c, "files")
	if err != nil {
		c.JSON(http.StatusBadRequest, legacyResult{Message: "upload failed: " + err.Error()})
		return
	}

	res, err := s.uc.UploadMany(c.Request.Context(), files)
	if err != nil {
		s.logger.Error("upload files failed", zap.Error(err))
		c.JSON(apperrors.GetHTTPStatus(apperrors.ExtractCode(err)), legacyResult{Message: "upload failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, legacyResult{Message: "upload success", Files: toArtifactResponses(res.Artifacts)})
}

// LegacyDownload 旧前端下载，任何失败都返回 404
func (s *ArtifactService) LegacyDownload(c *gin.Context) {
	name := c.Param("name")

	a, data, err := s.uc.Download(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusNotFound)
		return
	}

	writeAttachment(c, a.DisplayName, data)
}

// LegacyList 旧前端分页查询，直接返回分页对象
func (s *ArtifactService) LegacyList(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, legacyResult{Message: "query file list failed: " + err.Error()})
		return
	}

	pageNum, pageSize := database.NormalizePage(req.Page, req.PageSize)
	page, err := s.uc.List(c.Request.Context(), pageNum, pageSize, req.Filter)
	if err != nil {
		s.logger.Error("query file list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, legacyResult{Message: "query file list failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, toPageData(page))
}
