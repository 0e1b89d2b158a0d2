/*
Copyright 2025 Soko Market Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sokomarket/soko"
	"github.com/sokomarket/soko/api/middleware"
	"github.com/sokomarket/soko/config"
)

type Api struct {
	soko   *soko.Soko
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/orders/:order_id/credentials/qr", a.IssueQRCredential)
	router.POST("/orders/:order_id/credentials/code", a.IssueCodeCredential)
	router.GET("/orders/:order_id/credentials/status", a.CredentialStatus)

	router.POST("/redemptions/qr", a.RedeemQR)
	router.POST("/redemptions/code", a.RedeemCode)

	router.GET("/orders/:order_id/scan-attempts", a.GetScanAttempts)

	return a.router
}

func NewAPI(s *soko.Soko) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return &Api{soko: s, router: r}
}
