package repository

import (
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"time"
)

type (
	SearchParams struct {
		ProductID      *string             `json:"productId,omitempty" form:"product_id"`
		CredentialType *string             `json:"credentialType,omitempty" form:"type"`
		Status         *credentials.Status `json:"status,omitempty" form:"status"`
		Issuer         *string             `json:"issuer,omitempty" form:"issuer"`
		IssuedAfter    *time.Time          `json:"issuedAfter,omitempty" form:"issued_after" time_format:"2006-01-02T15:04:05Z07:00"`
		IssuedBefore   *time.Time          `json:"issuedBefore,omitempty" form:"issued_before" time_format:"2006-01-02T15:04:05Z07:00"`
		Sort           SortField           `json:"sort,omitempty" form:"sort"`
		Order          SortOrder           `json:"order,omitempty" form:"order"`
		// Page is zero-indexed.
		Page  int `json:"page" form:"page"`
		Limit int `json:"limit" form:"limit"`
	}

	SearchResult struct {
		Items      []credentials.Credential `json:"items"`
		TotalCount int                      `json:"totalCount"`
		Pagination Pagination               `json:"pagination"`
	}

	Pagination struct {
		Page       int `json:"page"`
		Limit      int `json:"limit"`
		TotalPages int `json:"totalPages"`
	}

	SortField string
	SortOrder string
)

const (
	SortIssuedAt  SortField = "issued_at"
	SortExpiresAt SortField = "expires_at"

	OrderAscending  SortOrder = "asc"
	OrderDescending SortOrder = "desc"

	DefaultLimit = 20
	MaxLimit     = 100
)

// Normalise fills in defaults and rejects parameters that cannot be satisfied.
func (p SearchParams) Normalise() (SearchParams, error) {
	if p.Sort == "" {
		p.Sort = SortIssuedAt
	}

	if p.Order == "" {
		p.Order = OrderDescending
	}

	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}

	switch {
	case p.Sort != SortIssuedAt && p.Sort != SortExpiresAt:
		return SearchParams{}, fmt.Errorf("%w: unknown sort field %q", ErrInvalidFilter, p.Sort)
	case p.Order != OrderAscending && p.Order != OrderDescending:
		return SearchParams{}, fmt.Errorf("%w: unknown sort order %q", ErrInvalidFilter, p.Order)
	case p.Status != nil && !p.Status.Valid():
		return SearchParams{}, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, *p.Status)
	case p.Page < 0:
		return SearchParams{}, fmt.Errorf("%w: page must not be negative", ErrInvalidFilter)
	case p.Limit > MaxLimit:
		return SearchParams{}, fmt.Errorf("%w: limit must not exceed %d", ErrInvalidFilter, MaxLimit)
	case p.IssuedAfter != nil && p.IssuedBefore != nil && p.IssuedBefore.Before(*p.IssuedAfter):
		return SearchParams{}, fmt.Errorf("%w: date range is inverted", ErrInvalidFilter)
	}

	return p, nil
}

// Matches reports whether the credential satisfies every filter in the parameters.
func (p SearchParams) Matches(credential credentials.Credential) bool {
	switch {
	case p.ProductID != nil && *p.ProductID != credential.ProductID:
		return false
	case p.CredentialType != nil && *p.CredentialType != credential.CredentialType:
		return false
	case p.Status != nil && *p.Status != credential.Status:
		return false
	case p.Issuer != nil && *p.Issuer != credential.Issuer:
		return false
	case p.IssuedAfter != nil && credential.IssuedAt.Before(*p.IssuedAfter):
		return false
	case p.IssuedBefore != nil && credential.IssuedAt.After(*p.IssuedBefore):
		return false
	default:
		return true
	}
}

func NewSearchResult(items []credentials.Credential, totalCount int, params SearchParams) SearchResult {
	if items == nil {
		items = make([]credentials.Credential, 0)
	}

	totalPages := 0
	if params.Limit > 0 {
		totalPages = (totalCount + params.Limit - 1) / params.Limit
	}

	return SearchResult{
		Items:      items,
		TotalCount: totalCount,
		Pagination: Pagination{
			Page:       params.Page,
			Limit:      params.Limit,
			TotalPages: totalPages,
		},
	}
}
