package credential

import (
	"context"
	"fmt"
	"github.com/RyanW02/supplytrail/pkg/errs"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/types/credentials"
	"github.com/mitchellh/hashstructure/v2"
	"go.opentelemetry.io/otel/attribute"
	"strconv"
	"time"
)

// searchFingerprint holds the search parameters in a form that hashes by value. Times are reduced to their Unix
// time, as time.Time has no exported fields.
type searchFingerprint struct {
	ProductID      string
	CredentialType *string
	Status         *credentials.Status
	Issuer         *string
	IssuedAfter    *int64
	IssuedBefore   *int64
	Sort           repository.SortField
	Order          repository.SortOrder
	Page           int
	Limit          int
}

// Search finds stored credentials. Results scoped to a product are cached until a credential of that product
// changes. Credentials past their expiry date are reported as expired, although the stored status is only
// updated when the credential is next verified.
func (s *Service) Search(ctx context.Context, params repository.SearchParams) (res repository.SearchResult, err error) {
	ctx, finish := s.startOperation(ctx, OperationSearch)
	defer func() {
		finish(err)
	}()

	params, err = params.Normalise()
	if err != nil {
		return repository.SearchResult{}, fmt.Errorf("%w: %s", errs.ErrValidationFailed, err.Error())
	}

	var key string
	if params.ProductID != nil {
		key, err = searchKey(params)
		if err != nil {
			return repository.SearchResult{}, err
		}

		if cached, ok := s.searches.Get(ctx, key); ok {
			return s.withLazyExpiry(cached), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()

	rc := s.retry.Context("credential_search")
	res, err = retry.Do(ctx, s.retry, rc, func(ctx context.Context) (repository.SearchResult, error) {
		return s.repo.Credentials().Search(ctx, params)
	})
	if err != nil {
		return repository.SearchResult{}, err
	}

	if key != "" {
		s.searches.Set(ctx, key, res)
	}

	return s.withLazyExpiry(res), nil
}

func (s *Service) withLazyExpiry(res repository.SearchResult) repository.SearchResult {
	now := s.now()
	for i, credential := range res.Items {
		if !credential.Status.Terminal() && credential.IsExpired(now) {
			res.Items[i].Status = credentials.StatusExpired
		}
	}

	return res
}

// searchKey places the search under the product's cache prefix, so that it is cleared along with the product.
func searchKey(params repository.SearchParams) (string, error) {
	hash, err := hashstructure.Hash(searchFingerprint{
		ProductID:      *params.ProductID,
		CredentialType: params.CredentialType,
		Status:         params.Status,
		Issuer:         params.Issuer,
		IssuedAfter:    unixNano(params.IssuedAfter),
		IssuedBefore:   unixNano(params.IssuedBefore),
		Sort:           params.Sort,
		Order:          params.Order,
		Page:           params.Page,
		Limit:          params.Limit,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}

	return productPrefix(*params.ProductID) + "search:" + strconv.FormatUint(hash, 16), nil
}

func unixNano(t *time.Time) *int64 {
	if t == nil {
		return nil
	}

	n := t.UnixNano()
	return &n
}

// Validate runs the validator against a stored credential.
func (s *Service) Validate(ctx context.Context, id string) (res credentials.ValidationResult, err error) {
	ctx, finish := s.startOperation(ctx, OperationValidate, attribute.String("credential.id", id))
	defer func() {
		finish(err)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.config.VerifyTimeout)
	defer cancel()

	credential, ok, err := s.load(ctx, id, true)
	if err != nil {
		return credentials.ValidationResult{}, err
	}

	if !ok {
		return credentials.ValidationResult{}, fmt.Errorf("%w: credential %s", errs.ErrNotFound, id)
	}

	return s.validator.Validate(credential), nil
}
