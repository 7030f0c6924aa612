// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
)

// HandleHealth reports liveness plus the size of the live dataset
// snapshot, so operators can tell an empty dataset from a dead service.
func HandleHealth(datasets *dataset.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"dataset_records": len(datasets.Current().Records),
		})
	}
}
