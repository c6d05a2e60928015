// Package failure defines the typed error kinds surfaced by the posting pipeline.
//
// Kinds are attached with Mark so the original cause chain is preserved; a single
// error may carry several kinds (a submit that failed because login failed is both
// SubmitError and LoginError). KindOf reports the most specific top-level kind.
package failure

import (
	"github.com/cockroachdb/errors"
)

// Kind names a failure class. The string value is what gets persisted in outcomes.
type Kind string

const (
	KindNone               Kind = ""
	KindNavigationTimeout  Kind = "NavigationTimeout"
	KindElementNotFound    Kind = "ElementNotFound"
	KindLogin              Kind = "LoginError"
	KindSubmit             Kind = "SubmitError"
	KindGeneration         Kind = "GenerationError"
	KindArticleNotFound    Kind = "ArticleNotFound"
	KindPoolTimeout        Kind = "PoolTimeout"
	KindScheduleValidation Kind = "ScheduleValidationError"
	KindUnknown            Kind = "Unknown"
)

// Sentinels used as mark references. Compare with Is, not ==.
var (
	ErrNavigationTimeout  = errors.New("navigation timeout")
	ErrElementNotFound    = errors.New("element not found")
	ErrLogin              = errors.New("login failed")
	ErrSubmit             = errors.New("submit failed")
	ErrGeneration         = errors.New("generation failed")
	ErrArticleNotFound    = errors.New("article not found")
	ErrPoolTimeout        = errors.New("pool wait timeout")
	ErrScheduleValidation = errors.New("invalid schedule")
)

var sentinels = map[Kind]error{
	KindNavigationTimeout:  ErrNavigationTimeout,
	KindElementNotFound:    ErrElementNotFound,
	KindLogin:              ErrLogin,
	KindSubmit:             ErrSubmit,
	KindGeneration:         ErrGeneration,
	KindArticleNotFound:    ErrArticleNotFound,
	KindPoolTimeout:        ErrPoolTimeout,
	KindScheduleValidation: ErrScheduleValidation,
}

// priority orders kinds from most to least specific for KindOf.
var priority = []Kind{
	KindArticleNotFound,
	KindGeneration,
	KindPoolTimeout,
	KindSubmit,
	KindLogin,
	KindNavigationTimeout,
	KindElementNotFound,
	KindScheduleValidation,
}

// Mark attaches kind to err. A nil err stays nil.
func Mark(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	ref, ok := sentinels[kind]
	if !ok {
		return err
	}
	return errors.Mark(err, ref)
}

// Newf creates a new error of the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return Mark(errors.Newf(format, args...), kind)
}

// Wrapf wraps err with a message and marks it with kind.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Mark(errors.Wrapf(err, format, args...), kind)
}

// Is reports whether err carries kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	ref, ok := sentinels[kind]
	if !ok {
		return false
	}
	return errors.Is(err, ref)
}

// KindOf returns the most specific kind carried by err, KindNone for nil and
// KindUnknown for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range priority {
		if Is(err, k) {
			return k
		}
	}
	return KindUnknown
}

// Terminal reports whether retrying the same firing cannot help.
func Terminal(err error) bool {
	return Is(err, KindArticleNotFound) || Is(err, KindGeneration) || Is(err, KindScheduleValidation)
}
