package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/david/investor-crm/internal/auth"
	"github.com/david/investor-crm/internal/config"
	"github.com/david/investor-crm/internal/db"
	"github.com/david/investor-crm/internal/ingest"
	"github.com/david/investor-crm/internal/models"
	"github.com/david/investor-crm/internal/queue"
)

// JobStore is the part of db.Store the HTTP layer needs.
type JobStore interface {
	CreateImportJob(ctx context.Context, job *models.ImportJob) error
	GetOwnedImportJob(ctx context.Context, ownerID, id uuid.UUID) (*models.ImportJob, error)
	ListImportJobs(ctx context.Context, filter db.JobFilter) ([]models.ImportJob, error)
	FailImportJob(ctx context.Context, id uuid.UUID, reason string) error
	GetOwnerStats(ctx context.Context, ownerID uuid.UUID) (*models.OwnerStats, error)
}

type Server struct {
	Jobs  JobStore
	Queue queue.Queue
	Echo  *echo.Echo

	opts config.ImportOptions
	log  *logrus.Entry
}

func NewServer(cfg *config.Config, jobs JobStore, q queue.Queue, secret []byte, log *logrus.Entry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins(),
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Jobs:  jobs,
		Queue: q,
		Echo:  e,
		opts:  cfg.Import,
		log:   log,
	}
	s.routes(secret)
	return s
}

func (s *Server) routes(secret []byte) {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.Echo.Group("/api/v1")
	api.Use(auth.Middleware(secret))
	api.GET("/stats", s.handleGetStats)

	imports := api.Group("/imports")
	// Leave room for the multipart envelope around the file itself.
	imports.POST("", s.handleUpload, middleware.BodyLimit(fmt.Sprintf("%dK", s.opts.MaxFileSize/1024+1024)))
	imports.GET("", s.handleListJobs)
	imports.GET("/:id", s.handleGetJob)
	imports.GET("/:id/failures", s.handleDownloadFailures)
}

func (s *Server) Start(addr string) error {
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleUpload(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !ingest.IsSupportedExtension(ext) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unsupported file type %q, expected one of %s", ext, strings.Join(ingest.SupportedExtensions, ", ")),
		})
	}
	if fh.Size > s.opts.MaxFileSize {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("file exceeds the %d byte limit", s.opts.MaxFileSize),
		})
	}

	var mapping map[string]string
	if raw := strings.TrimSpace(c.FormValue("field_mapping")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "field_mapping must be a JSON object of column to field"})
		}
		if err := ingest.CheckFieldMapping(mapping); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}

	path, err := saveUpload(fh, s.opts.UploadDir, ext)
	if err != nil {
		s.log.WithError(err).Error("failed to store upload")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
	}

	ctx := c.Request().Context()
	job := &models.ImportJob{
		CreatedBy:    userID,
		FileName:     filepath.Base(fh.Filename),
		FilePath:     path,
		FileSize:     fh.Size,
		FieldMapping: mapping,
	}
	if err := s.Jobs.CreateImportJob(ctx, job); err != nil {
		os.Remove(path)
		s.log.WithError(err).Error("failed to create import job")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create import job"})
	}

	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "owner": userID, "file": job.FileName})
	if err := s.Queue.Enqueue(ctx, job.ID); err != nil {
		log.WithError(err).Error("failed to enqueue import job")
		if ferr := s.Jobs.FailImportJob(ctx, job.ID, "could not be queued"); ferr != nil {
			log.WithError(ferr).Warn("failed to mark unqueued job as failed")
		}
		os.Remove(path)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "import queue unavailable"})
	}
	log.Info("import job queued")

	return c.JSON(http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"poll_url": "/api/v1/imports/" + job.ID.String(),
	})
}

func saveUpload(fh *multipart.FileHeader, dir, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(dir, uuid.NewString()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) handleListJobs(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	filter := db.JobFilter{OwnerID: userID}
	switch status := models.JobStatus(c.QueryParam("status")); status {
	case "":
	case models.JobPending, models.JobRunning, models.JobCompleted, models.JobFailed:
		filter.Status = status
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status filter"})
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}

	jobs, err := s.Jobs.ListImportJobs(c.Request().Context(), filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, status, msg := s.ownedJob(c)
	if job == nil {
		return c.JSON(status, map[string]string{"error": msg})
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleDownloadFailures(c echo.Context) error {
	job, status, msg := s.ownedJob(c)
	if job == nil {
		return c.JSON(status, map[string]string{"error": msg})
	}
	if job.FailureFile == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job has no failure file"})
	}
	if _, err := os.Stat(job.FailureFile); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "failure file has expired"})
	}
	return c.Attachment(job.FailureFile, filepath.Base(job.FailureFile))
}

// ownedJob loads the :id job for the caller. On failure the job is nil and
// the status and message describe the error response.
func (s *Server) ownedJob(c echo.Context) (*models.ImportJob, int, string) {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return nil, http.StatusUnauthorized, "Unauthorized"
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, http.StatusBadRequest, "Invalid ID"
	}

	job, err := s.Jobs.GetOwnedImportJob(c.Request().Context(), userID, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, http.StatusNotFound, "import job not found"
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err.Error()
	}
	return job, http.StatusOK, ""
}

func (s *Server) handleGetStats(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	stats, err := s.Jobs.GetOwnerStats(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}
