package dto

// PaginationMeta captures offset pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// CursorQuery requests one page of a newest-first listing.
type CursorQuery struct {
	Cursor string `query:"cursor" validate:"omitempty,max=256"`
	Limit  int    `query:"limit" validate:"omitempty,gte=1,lte=100"`
}
