package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/Faultbox/scenekit/pkg/formats"
	"github.com/Faultbox/scenekit/pkg/postprocess"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// Kind classifies an import failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedFormat
	KindTruncated
	KindInvalidMagic
	KindReferenceUnresolved
	KindOutOfBounds
	KindMalformed
	KindPostProcessFailure
	KindDoubleRelease
	KindIO
	KindCanceled
)

var kindNames = [...]string{
	"unknown",
	"unsupported format",
	"truncated",
	"invalid magic",
	"reference unresolved",
	"out of bounds",
	"malformed",
	"post-process failure",
	"double release",
	"i/o",
	"canceled",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// IsMalformed reports whether k describes corrupt input. Declared sizes
// beyond the available data count as corruption.
func (k Kind) IsMalformed() bool {
	switch k {
	case KindTruncated, KindInvalidMagic, KindOutOfBounds, KindMalformed:
		return true
	}
	return false
}

// ErrDoubleRelease is wrapped by the error Release returns for a scene
// that was already released.
var ErrDoubleRelease = errors.New("scene already released")

// ImportError is returned by every Importer operation.
type ImportError struct {
	Kind   Kind
	Source string
	Stage  Stage
	// Pass names the failing post-processing pass, if any.
	Pass string
	// Offset is the byte offset of a binary decode failure, or -1.
	Offset int64
	Err    error
}

func (e *ImportError) Error() string {
	where := e.Stage.String()
	if e.Pass != "" {
		where += " " + e.Pass
	}
	return fmt.Sprintf("import %q: %s: %v", e.Source, where, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that did not come from an
// Importer are classified by the sentinels they wrap.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return classify(err)
}

// classify maps wrapped sentinels to a Kind. Checked in order, so a
// missing sub-file reported as truncated by a resolver still counts as
// unresolved.
func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrDoubleRelease):
		return KindDoubleRelease
	case errors.Is(err, formats.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, formats.ErrReferenceUnresolved):
		return KindReferenceUnresolved
	case errors.Is(err, formats.ErrTruncated):
		return KindTruncated
	case errors.Is(err, formats.ErrInvalidMagic):
		return KindInvalidMagic
	case errors.Is(err, formats.ErrOutOfBounds):
		return KindOutOfBounds
	case errors.Is(err, formats.ErrUnsupportedVersion),
		errors.Is(err, formats.ErrMalformed),
		errors.Is(err, scene.ErrInvalidScene):
		return KindMalformed
	case errors.Is(err, postprocess.ErrIncompatibleFlags),
		errors.Is(err, postprocess.ErrUnknownFlag):
		return KindPostProcessFailure
	}
	var pe *postprocess.PassError
	if errors.As(err, &pe) {
		return KindPostProcessFailure
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return KindIO
	}
	return KindUnknown
}
