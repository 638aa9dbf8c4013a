package transform

import (
	"fmt"
	"strings"

	"streamworker/internal/record"
)

// Kind tags a Result.
type Kind int

const (
	KindEmit Kind = iota
	KindSkip
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindEmit:
		return "emit"
	case KindSkip:
		return "skip"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrorKind classifies a Failed result.
type ErrorKind string

const (
	ErrInvalidRecord ErrorKind = "invalid_record"
)

// Result is Emit(Output) | Skip | Failed(ErrorKind).
type Result struct {
	Kind   Kind
	Output record.Output
	Error  ErrorKind
	Reason string
}

func Emit(out record.Output) Result { return Result{Kind: KindEmit, Output: out} }
func Skip() Result                  { return Result{Kind: KindSkip} }

func Failed(kind ErrorKind, reason string) Result {
	return Result{Kind: KindFailed, Error: kind, Reason: reason}
}

// Func is the transform stage.
type Func func(record.Decoded) Result

const (
	ModeEnrich   = "enrich"
	ModeIdentity = "identity"
)

// Options configure New.
type Options struct {
	Mode   string
	MinAge int32
}

// New returns the transform selected by opts.Mode.
func New(opts Options) (Func, error) {
	switch opts.Mode {
	case "", ModeEnrich:
		minAge := opts.MinAge
		return func(in record.Decoded) Result { return enrich(in, minAge) }, nil
	case ModeIdentity:
		return Identity, nil
	default:
		return nil, fmt.Errorf("transform: unknown mode %q", opts.Mode)
	}
}

// Identity copies every field unchanged.
func Identity(in record.Decoded) Result {
	return Emit(record.Output{
		Key: record.SinkKey{ID: in.Key.ID},
		Value: record.SinkPerson{
			ID:            in.Value.ID,
			Name:          in.Value.Name,
			FavoriteColor: in.Value.FavoriteColor,
			Age:           in.Value.Age,
		},
		Source: in.Position,
	})
}

func enrich(in record.Decoded, minAge int32) Result {
	p := in.Value
	if p.ID <= 0 {
		return Failed(ErrInvalidRecord, fmt.Sprintf("id must be positive, got %d", p.ID))
	}
	name := strings.Join(strings.Fields(p.Name), " ")
	if name == "" {
		return Failed(ErrInvalidRecord, "name is blank")
	}
	if p.Age < minAge {
		return Skip()
	}
	return Emit(record.Output{
		Key: record.SinkKey{ID: p.ID},
		Value: record.SinkPerson{
			ID:            p.ID,
			Name:          name,
			FavoriteColor: strings.ToLower(strings.TrimSpace(p.FavoriteColor)),
			Age:           p.Age,
			AgeGroup:      ageGroup(p.Age),
			Source:        in.Position.String(),
		},
		Source: in.Position,
	})
}

func ageGroup(age int32) string {
	switch {
	case age < 18:
		return "minor"
	case age < 65:
		return "adult"
	default:
		return "senior"
	}
}
