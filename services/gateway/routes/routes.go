// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
	"github.com/AleutianAI/AleutianEval/services/gateway/handlers"
	"github.com/AleutianAI/AleutianEval/services/gateway/middleware"
)

// SetupRoutes registers every gateway endpoint on router.
//
// /health and /metrics are unauthenticated. Everything under /api requires
// an API key, either from the request or the configured default.
func SetupRoutes(router *gin.Engine, deps *handlers.Deps, gatherer prometheus.Gatherer, opts extensions.ServiceOptions) {
	opts = opts.WithDefaults()
	base := *deps
	if base.Audit == nil {
		base.Audit = opts.AuditLogger
	}
	d := base.WithDefaults()

	router.Use(middleware.RequestID(), middleware.AccessLog(d.Metrics))

	router.GET("/health", handlers.HealthCheck(d))
	router.GET("/metrics", handlers.Metrics(gatherer))

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		collections := api.Group("/collections")
		{
			collections.GET("", handlers.ListCollections(d))
			collections.POST("", handlers.CreateCollection(d))
			collections.GET("/jobs/:jobId", handlers.GetCollectionJob(d))
			collections.GET("/:id", handlers.GetCollection(d))
			collections.DELETE("/:id", handlers.DeleteCollection(d))
		}

		documents := api.Group("/documents")
		{
			documents.GET("", handlers.ListDocuments(d))
			documents.POST("", handlers.UploadDocuments(d))
			documents.GET("/:id", handlers.GetDocument(d))
			documents.DELETE("/:id", handlers.DeleteDocument(d))
		}

		evaluations := api.Group("/evaluations")
		{
			evaluations.GET("", handlers.ListEvaluations(d))
			evaluations.POST("", handlers.CreateEvaluation(d))
			evaluations.GET("/:id", handlers.GetEvaluation(d))
			evaluations.POST("/:id/export", handlers.ExportEvaluation(d))

			stt := evaluations.Group("/stt")
			{
				stt.GET("/datasets", handlers.ListSTTDatasets(d))
				stt.POST("/datasets", handlers.CreateSTTDataset(d))
				stt.GET("/datasets/:id", handlers.GetSTTDataset(d))
				stt.GET("/runs", handlers.ListSTTRuns(d))
				stt.POST("/runs", handlers.CreateSTTRun(d))
				stt.GET("/runs/:id", handlers.GetSTTRun(d))
				stt.GET("/runs/:id/results", handlers.GetSTTRunResults(d))
				stt.POST("/wer", handlers.ComputeWER(d))
				stt.GET("/wer/history", handlers.WERHistory(d))
			}
		}

		configs := api.Group("/configs")
		{
			configs.GET("", handlers.ListConfigs(d))
			configs.POST("", handlers.CreateConfig(d))
			configs.GET("/:id", handlers.GetConfig(d))
			configs.PATCH("/:id", handlers.UpdateConfig(d))
			configs.DELETE("/:id", handlers.DeleteConfig(d))
			configs.GET("/:id/versions", handlers.ListConfigVersions(d))
			configs.POST("/:id/versions", handlers.CreateConfigVersion(d))
			configs.GET("/:id/versions/:version", handlers.GetConfigVersion(d))
			configs.GET("/:id/diff", handlers.DiffConfigVersions(d))
		}
		api.POST("/diff", handlers.DiffTexts())

		jobsGroup := api.Group("/jobs")
		{
			jobsGroup.GET("", handlers.ListJobs(d))
			jobsGroup.GET("/ws", handlers.JobsWebSocket(d))
			jobsGroup.GET("/:id", handlers.GetJob(d))
			jobsGroup.DELETE("/:id", handlers.DismissJob(d))
		}
	}
}
