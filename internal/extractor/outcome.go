package extractor

import (
	"context"
	"errors"
	"net/http"

	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// KindOf maps an error from the fetch or parse path onto the capture error kind.
func KindOf(err error) researcher.ErrorKind {
	if kind, ok := fetcher.KindOf(err); ok {
		switch kind {
		case fetcher.KindUnreachable:
			return researcher.KindUnreachable
		case fetcher.KindBlocked:
			return researcher.KindBlocked
		case fetcher.KindTimeout:
			return researcher.KindTimeout
		case fetcher.KindTransient:
			return researcher.KindTransient
		case fetcher.KindPermanent:
			if fetcher.StatusOf(err) == http.StatusNotFound {
				return researcher.KindNotFound
			}
			return researcher.KindPermanent
		}
	}
	switch {
	case errors.Is(err, researcher.ErrProfileBlocked):
		return researcher.KindBlocked
	case errors.Is(err, researcher.ErrProfileNotFound):
		return researcher.KindNotFound
	case errors.Is(err, researcher.ErrInvalidInput):
		return researcher.KindInvalidInput
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return researcher.KindTimeout
	default:
		return researcher.KindInternal
	}
}

// FailedFrom wraps err into a Failed outcome for source.
func FailedFrom(source researcher.Source, err error) researcher.Failed {
	return researcher.Failed{Source: source, Kind: KindOf(err), Err: err}
}

// IsNotFound reports whether err is a 404 or an explicit not-found error.
func IsNotFound(err error) bool {
	return KindOf(err) == researcher.KindNotFound
}
