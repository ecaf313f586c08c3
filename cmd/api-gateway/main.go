package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/unicampus/enrollment-api/api/swagger"
	"github.com/unicampus/enrollment-api/internal/handler"
	"github.com/unicampus/enrollment-api/internal/middleware"
	"github.com/unicampus/enrollment-api/internal/models"
	"github.com/unicampus/enrollment-api/internal/repository"
	"github.com/unicampus/enrollment-api/internal/service"
	"github.com/unicampus/enrollment-api/pkg/cache"
	"github.com/unicampus/enrollment-api/pkg/config"
	"github.com/unicampus/enrollment-api/pkg/database"
	"github.com/unicampus/enrollment-api/pkg/logger"
	corsmiddleware "github.com/unicampus/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/unicampus/enrollment-api/pkg/middleware/requestid"
)

// @title University Enrollment API
// @version 1.0.0
// @description Course enrollment decision engine with capacity, prerequisite and grading rules
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		if cfg.Cache.Enabled {
			logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		}
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	courseRepo := repository.NewCourseRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.Issuer, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, enrollmentRepo, validate, logr, cfg.Catalog.DefaultCapacity)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, studentRepo, cacheSvc, metricsSvc, validate, logr, cfg.Enrollment.LockTimeout)
	rosterSvc := service.NewRosterService(enrollmentRepo, courseRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	courseHandler := handler.NewCourseHandler(courseSvc, rosterSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	authed.GET("/auth/me", authHandler.Me)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleStaff)
	admin := middleware.RequireRoles(models.RoleAdmin)

	students := authed.Group("/students")
	{
		students.GET("", studentHandler.List)
		students.POST("", staff, studentHandler.Create)
		students.GET("/:id", studentHandler.Get)
		students.PUT("/:id", staff, studentHandler.Update)
		students.PATCH("/:id/active", staff, studentHandler.SetActive)
		students.GET("/:id/enrollments", enrollmentHandler.ListByStudent)
	}

	courses := authed.Group("/courses")
	{
		courses.GET("", courseHandler.List)
		courses.POST("", staff, courseHandler.Create)
		courses.GET("/:id", courseHandler.Get)
		courses.PUT("/:id", staff, courseHandler.Update)
		courses.DELETE("/:id", admin, courseHandler.Delete)
		courses.PATCH("/:id/active", staff, courseHandler.SetActive)
		courses.GET("/:id/availability", courseHandler.Availability)
		courses.GET("/:id/prerequisites", courseHandler.ListPrerequisites)
		courses.POST("/:id/prerequisites", staff, courseHandler.AddPrerequisite)
		courses.DELETE("/:id/prerequisites/:prereqId", staff, courseHandler.RemovePrerequisite)
		courses.GET("/:id/enrollments", staff, enrollmentHandler.ListByCourse)
		courses.GET("/:id/roster", staff, courseHandler.ExportRoster)
	}

	enrollments := authed.Group("/enrollments")
	{
		enrollments.GET("", staff, enrollmentHandler.List)
		enrollments.POST("", enrollmentHandler.Create)
		enrollments.GET("/eligibility", enrollmentHandler.Eligibility)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.PUT("/:id/status", staff, enrollmentHandler.UpdateStatus)
		enrollments.PUT("/:id/grade", staff, enrollmentHandler.UpdateGrade)
		enrollments.DELETE("/:id", enrollmentHandler.Cancel)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	if err := cacheRepo.Close(); err != nil {
		logr.Warn("failed to close redis", zap.Error(err))
	}
}
