package hxtxn

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pthm/hxtxn/lib/encoding"
	"github.com/pthm/hxtxn/lib/logging"
	"github.com/pthm/hxtxn/lib/schema"
)

var builtinValidator = sync.OnceValue(schema.MustNew)

// DecodeOptions configures DecodeBatch. Zero values select the built-in
// schemas and type tags and a discarding logger.
type DecodeOptions struct {
	Validator *schema.Validator
	TypeTags  *encoding.TypeTags
	Logger    *slog.Logger
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.Validator == nil {
		o.Validator = builtinValidator()
	}
	if o.TypeTags == nil {
		o.TypeTags = encoding.DefaultTypeTags()
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// DecodeBatch decodes and validates an instruction envelope. It never
// panics: a malformed envelope yields a *DecodeError, and a malformed
// element yields an instruction carrying a ValidationError.
func DecodeBatch(raw []byte, opts DecodeOptions) (batch *InstructionBatch, err error) {
	opts = opts.withDefaults()
	defer func() {
		if r := recover(); r != nil {
			batch, err = nil, &DecodeError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	env, err := encoding.DecodeEnvelope(raw)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	batch = &InstructionBatch{
		GroupKey:      env.GroupKey,
		SubmitOptions: env.SubmitOptions,
		Elements:      make([]RenderInstruction, len(env.Elements)),
	}
	if env.ValidationErrorMessage != nil {
		batch.ValidationErrorMessage = *env.ValidationErrorMessage
	}

	logger := opts.Logger.With("groupKey", env.GroupKey)
	for i, el := range env.Elements {
		batch.Elements[i] = decodeInstruction(i, el, opts, logger)
	}
	return batch, nil
}

func decodeInstruction(i int, el encoding.WireElement, opts DecodeOptions, logger *slog.Logger) RenderInstruction {
	ri := RenderInstruction{
		Index:               i,
		Kind:                ParseKind(el.Kind),
		Tag:                 el.Kind,
		Label:               el.Label,
		IsStateful:          el.IsStateful,
		IsOptional:          el.IsOptional,
		IsMultiple:          el.IsMultiple,
		MultipleConstraints: el.MultipleConstraints,
	}
	logger = logger.With("element", i, "kind", el.Kind)

	if el.DecodeErr != nil {
		ri.ValidationError = schema.NewError(el.Kind, "", "malformed element: "+el.DecodeErr.Error())
		logger.Warn("malformed element", "error", el.DecodeErr)
		return ri
	}

	props, err := el.PropertiesMap()
	if err != nil {
		ri.ValidationError = schema.NewError(el.Kind, "", err.Error())
		return ri
	}

	if len(el.PropertiesTypeMeta) > 0 {
		res, err := opts.TypeTags.Hydrate(props, el.PropertiesTypeMeta)
		if err != nil {
			logger.Warn("property rehydration failed, using raw properties", "error", err)
		} else if m, ok := res.Value.(map[string]any); ok {
			props = m
		}
		if len(res.Unknown) > 0 {
			logger.Debug("unknown type tags left raw", "paths", res.Unknown)
		}
	}
	ri.Properties = props

	if ri.Kind == KindUnknown {
		logger.Info("unknown component kind")
		return ri
	}

	data, verr := opts.Validator.Validate(el.Kind, props)
	if verr != nil {
		ri.ValidationError = verr
		logger.Warn("element failed validation", "error", verr)
		return ri
	}
	ri.Properties = data
	return ri
}
