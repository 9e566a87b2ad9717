package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// PageRequest holds pagination parameters
type PageRequest struct {
	Page     int64 `json:"page"`
	PageSize int64 `json:"pageSize"`
}

// PageResponse is a page of results
type PageResponse[T any] struct {
	Data       []T   `json:"data"`
	Page       int64 `json:"page"`
	PageSize   int64 `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int64 `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
}

// NewPageResponse builds a page response
func NewPageResponse[T any](data []T, req PageRequest, totalItems int64) PageResponse[T] {
	totalPages := (totalItems + req.PageSize - 1) / req.PageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if data == nil {
		data = []T{}
	}
	return PageResponse[T]{
		Data:       data,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
		HasNext:    req.Page < totalPages,
	}
}

// ParsePagination reads page and pageSize, clamping pageSize to 1..100
func ParsePagination(c *gin.Context) PageRequest {
	page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	pageSize, _ := strconv.ParseInt(c.DefaultQuery("pageSize", "20"), 10, 64)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return PageRequest{Page: page, PageSize: pageSize}
}

// Offset is the number of items to skip
func (p PageRequest) Offset() int64 { return (p.Page - 1) * p.PageSize }
