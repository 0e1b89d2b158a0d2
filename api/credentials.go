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
	"net/http"

	model2 "github.com/sokomarket/soko/api/model"
	"github.com/sokomarket/soko/internal/apierror"

	"github.com/gin-gonic/gin"
)

func (a Api) IssueQRCredential(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass order_id in the route /:order_id"})
		return
	}

	var req model2.IssueCredential
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateIssueCredential(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.soko.IssueQRCredential(c.Request.Context(), orderID, req.BuyerID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) IssueCodeCredential(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass order_id in the route /:order_id"})
		return
	}

	var req model2.IssueCredential
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateIssueCredential(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.soko.IssueCodeCredential(c.Request.Context(), orderID, req.BuyerID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a Api) CredentialStatus(c *gin.Context) {
	orderID, passed := c.Params.Get("order_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required. pass order_id in the route /:order_id"})
		return
	}

	callerID := c.Query("caller_id")
	if callerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "caller_id query parameter is required"})
		return
	}

	resp, err := a.soko.CredentialStatus(c.Request.Context(), orderID, callerID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
