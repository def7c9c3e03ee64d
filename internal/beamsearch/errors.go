package beamsearch

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is the parent of every validation error returned by the decoder.
// Callers can test for it with errors.Is to separate bad input from other failures.
var ErrInvalidArgument = errors.New("invalid argument")

var (
	ErrEmptyAlphabet           = fmt.Errorf("%w: alphabet is empty", ErrInvalidArgument)
	ErrDuplicateSymbol         = fmt.Errorf("%w: alphabet symbols must be distinct", ErrInvalidArgument)
	ErrInvalidBeamWidth        = fmt.Errorf("%w: beam width must be positive", ErrInvalidArgument)
	ErrInvalidTopK             = fmt.Errorf("%w: topk paths must be positive", ErrInvalidArgument)
	ErrInvalidWorkers          = fmt.Errorf("%w: worker count must not be negative", ErrInvalidArgument)
	ErrFrameShape              = fmt.Errorf("%w: probability frame has wrong length", ErrInvalidArgument)
	ErrUnknownConstraintSymbol = fmt.Errorf("%w: constraint symbol not in alphabet", ErrInvalidArgument)
)
